// Package alert sends best-effort error notifications to priority-tiered
// webhook channels. Delivery is fire-and-forget: transport failures and
// non-2xx responses are logged and swallowed, never retried, and never
// surfaced to the caller.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/forgebot/forgebot/internal/config"
	"github.com/rs/zerolog/log"
)

// Priority selects which outbound channel receives the alert.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Emitter posts flat {"content": ...} bodies to one of three
// preconfigured webhook endpoints selected by priority.
type Emitter struct {
	client *http.Client
	urls   map[Priority]string
}

// NewEmitter builds an Emitter from the alert channel configuration.
// Channels with empty URLs are simply skipped at emit time.
func NewEmitter(cfg config.AlertConfig) *Emitter {
	return &Emitter{
		client: &http.Client{Timeout: 10 * time.Second},
		urls: map[Priority]string{
			PriorityHigh:   cfg.HighPriorityURL,
			PriorityMedium: cfg.MediumPriorityURL,
			PriorityLow:    cfg.LowPriorityURL,
		},
	}
}

// Emit sends content to the channel for the given priority. Best effort:
// every failure path logs and returns without error.
func (e *Emitter) Emit(ctx context.Context, content string, priority Priority) {
	url := e.urls[priority]
	if url == "" {
		log.Debug().Str("priority", priority.String()).Msg("No alert channel configured")
		return
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal alert payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("priority", priority.String()).Msg("Failed to send alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("priority", priority.String()).
			Msg("Alert channel rejected message")
	}
}
