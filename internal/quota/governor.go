package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/forgebot/forgebot/internal/config"
	"github.com/forgebot/forgebot/internal/geo"
	"github.com/rs/zerolog/log"
)

// UserLocator returns the free-text location from a user's hosting
// platform profile. Implemented by internal/platform.
type UserLocator interface {
	UserLocation(ctx context.Context, username string) (string, error)
}

// Governor owns the per-user usage counters and the tier decision.
//
// ShouldDegrade is a pure decision tree over (tier, monthly count,
// daily count, country support, resolver availability); the only
// persisted state is the counters, which only ever grow within a period.
type Governor struct {
	store    CounterStore
	resolver geo.Resolver
	users    UserLocator
	cfg      config.QuotaConfig
	now      func() time.Time
}

// NewGovernor builds a Governor. store may be nil when the counter
// store could not be reached at startup; every decision then fails safe
// toward the degraded path.
func NewGovernor(store CounterStore, resolver geo.Resolver, users UserLocator, cfg config.QuotaConfig) *Governor {
	return &Governor{
		store:    store,
		resolver: resolver,
		users:    users,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ── Period keys ──────────────────────────────────────────────

// monthKey formats the current month period key, e.g. "08/2026".
func monthKey(t time.Time) string {
	return t.Format("01/2006")
}

// dayKey formats the current day period key, e.g. "08/2026/30".
func dayKey(t time.Time) string {
	return t.Format("01/2006/02")
}

// fastKey is the month sub-counter for work done on the cheap tier.
func fastKey(t time.Time) string {
	return monthKey(t) + "_fast"
}

// ── Recording ────────────────────────────────────────────────

// RecordTicket increments the month and day counters for username, plus
// the month fast-tier sub-counter when the work ran degraded. With the
// store unavailable this is a no-op with a logged error.
func (g *Governor) RecordTicket(ctx context.Context, username string, fastTier bool) {
	if g.store == nil {
		log.Error().Str("username", username).Msg("Counter store unavailable, ticket not recorded")
		return
	}
	now := g.now()
	keys := []string{monthKey(now), dayKey(now)}
	if fastTier {
		keys = append(keys, fastKey(now))
	}
	if err := g.store.IncrCounters(ctx, username, keys...); err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to record ticket")
		return
	}
	log.Info().Str("username", username).Bool("fast_tier", fastTier).Msg("Recorded ticket")
}

// TicketCount reads the counter for the current month (or day). The
// fast-tier sub-counter overrides the day selector, mirroring how it is
// recorded. Absent counters read as 0.
func (g *Governor) TicketCount(ctx context.Context, username string, byDay, fastTier bool) (int64, error) {
	if g.store == nil {
		return 0, errors.New("quota: counter store unavailable")
	}
	now := g.now()
	key := monthKey(now)
	if byDay {
		key = dayKey(now)
	}
	if fastTier {
		key = fastKey(now)
	}
	return g.store.Counter(ctx, username, key)
}

// IsPayingUser reports the paying flag; false when the store is down.
func (g *Governor) IsPayingUser(ctx context.Context, username string) bool {
	if g.store == nil {
		return false
	}
	paying, _, err := g.store.Flags(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to read tier flags")
		return false
	}
	return paying
}

// IsTrialUser reports the trial flag; false when the store is down.
func (g *Governor) IsTrialUser(ctx context.Context, username string) bool {
	if g.store == nil {
		return false
	}
	_, trial, err := g.store.Flags(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Failed to read tier flags")
		return false
	}
	return trial
}

// ── The decision ─────────────────────────────────────────────

// ShouldDegrade decides whether username's current request must run at
// the degraded capability level. Evaluated in strict order with
// short-circuiting:
//
//  1. counter store unavailable        → true (fail safe toward cheap)
//  2. paying user                      → monthly >= paid limit
//  3. trial user                       → monthly >= trial limit
//  4. free tier                        → geography-based allowance
func (g *Governor) ShouldDegrade(ctx context.Context, username string) bool {
	if g.store == nil {
		log.Error().Str("username", username).Msg("Counter store unavailable, degrading")
		return true
	}

	paying, trial, err := g.store.Flags(ctx, username)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Tier lookup failed, degrading")
		return true
	}

	switch {
	case paying:
		return g.monthlyAtLeast(ctx, username, g.cfg.PaidMonthlyLimit)
	case trial:
		return g.monthlyAtLeast(ctx, username, g.cfg.TrialMonthlyLimit)
	default:
		return g.degradeFreeTier(ctx, username)
	}
}

// monthlyAtLeast reads the month counter and compares against limit.
// A read failure counts as over the limit.
func (g *Governor) monthlyAtLeast(ctx context.Context, username string, limit int64) bool {
	n, err := g.TicketCount(ctx, username, false, false)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Count lookup failed, degrading")
		return true
	}
	return n >= limit
}

// degradeFreeTier applies the geography-based allowance for users who
// are neither paying nor on trial. Geolocation failures never abort the
// decision; they fall through to the unresolved branch.
func (g *Governor) degradeFreeTier(ctx context.Context, username string) bool {
	month, err := g.TicketCount(ctx, username, false, false)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Count lookup failed, degrading")
		return true
	}
	day, err := g.TicketCount(ctx, username, true, false)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("Count lookup failed, degrading")
		return true
	}

	if loc := g.resolveLocation(ctx, username); loc != nil {
		if !g.supportedCountry(loc.DisplayName) {
			return month >= g.cfg.FreeMonthlyLimit || day >= g.cfg.FreeDailyLimit
		}
		// Supported countries share the unresolved allowance below.
	}

	return month >= g.cfg.FreeMonthlyLimit || day > g.cfg.FallbackDailyLimit
}

// resolveLocation looks up the user's declared location and geocodes it.
// Every failure mode returns nil so the caller takes the unresolved
// branch; each is logged individually.
func (g *Governor) resolveLocation(ctx context.Context, username string) *geo.Location {
	if g.users == nil || g.resolver == nil {
		return nil
	}

	declared, err := g.users.UserLocation(ctx, username)
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("Profile location lookup failed")
		return nil
	}
	if declared == "" {
		return nil
	}

	loc, err := g.resolver.Resolve(ctx, declared)
	switch {
	case err == nil:
		return loc
	case errors.Is(err, geo.ErrTimeout):
		log.Warn().Str("username", username).Msg("Geolocation service timed out")
	case errors.Is(err, geo.ErrNoMatch):
		log.Warn().Str("username", username).Str("location", declared).Msg("Geolocation found no match")
	default:
		log.Warn().Err(err).Str("username", username).Msg("Geolocation service error")
	}
	return nil
}

// supportedCountry reports whether the resolved display name mentions
// one of the configured supported countries.
func (g *Governor) supportedCountry(displayName string) bool {
	lower := strings.ToLower(displayName)
	for _, c := range g.cfg.SupportedCountries {
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}
