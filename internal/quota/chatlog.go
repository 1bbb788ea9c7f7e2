package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgebot/forgebot/pkg/models"
	"github.com/rs/zerolog/log"
)

// historyLimit caps how many entries a single read returns.
const historyLimit = 2000

// ChatHistoryStore is the append-only persistence behind ChatLogger.
type ChatHistoryStore interface {
	AppendChat(ctx context.Context, username string, entry models.ChatHistoryEntry) error
	ChatHistory(ctx context.Context, username string, limit int64) ([]models.ChatHistoryEntry, error)
}

// ChatLogger records an audit trail of interactions for one user
// session. Entries carry a per-session-date expiration stamp and a
// monotonically increasing per-logger index; they feed history views,
// never quota decisions.
type ChatLogger struct {
	store      ChatHistoryStore
	username   string
	expiration time.Time
	index      int
}

// NewChatLogger starts a logger for username. The expiration stamp is
// one day out, matching the historical-use window.
func NewChatLogger(store ChatHistoryStore, username string) *ChatLogger {
	return &ChatLogger{
		store:      store,
		username:   username,
		expiration: time.Now().UTC().Add(24 * time.Hour),
	}
}

// AddChat appends one interaction record. With no store configured this
// is a logged no-op.
func (l *ChatLogger) AddChat(ctx context.Context, data map[string]any) {
	if l.store == nil {
		log.Error().Str("username", l.username).Msg("Chat history store unavailable")
		return
	}
	entry := models.ChatHistoryEntry{
		Username:   l.username,
		Data:       data,
		Expiration: l.expiration,
		Index:      l.index,
	}
	l.index++
	if err := l.store.AppendChat(ctx, l.username, entry); err != nil {
		log.Error().Err(err).Str("username", l.username).Msg("Failed to append chat history")
	}
}

// History reads back this user's entries in append order.
func (l *ChatLogger) History(ctx context.Context) ([]models.ChatHistoryEntry, error) {
	if l.store == nil {
		return nil, fmt.Errorf("quota: chat history store unavailable")
	}
	return l.store.ChatHistory(ctx, l.username, historyLimit)
}

// ── Redis-backed history store ───────────────────────────────

func chatKey(username string) string {
	return "chat:" + username
}

// AppendChat pushes the entry onto the user's history list and refreshes
// the record-level TTL (28-day data persistence by default).
func (s *RedisStore) AppendChat(ctx context.Context, username string, entry models.ChatHistoryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("quota: marshal chat entry: %w", err)
	}
	key := chatKey(username)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota: append chat for %s: %w", username, err)
	}
	return nil
}

// ChatHistory returns up to limit entries in append order.
func (s *RedisStore) ChatHistory(ctx context.Context, username string, limit int64) ([]models.ChatHistoryEntry, error) {
	raws, err := s.rdb.LRange(ctx, chatKey(username), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("quota: read chat history for %s: %w", username, err)
	}
	entries := make([]models.ChatHistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e models.ChatHistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("quota: decode chat entry for %s: %w", username, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
