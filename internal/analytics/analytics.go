// Package analytics is a thin wrapper over the PostHog client. When no
// API key is configured, capture calls become no-ops so callers never
// need to branch on whether analytics is enabled.
package analytics

import (
	"github.com/forgebot/forgebot/internal/config"
	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog/log"
)

// Client captures product analytics events.
type Client struct {
	ph posthog.Client
}

// NewClient builds an analytics client. A client with an empty key is
// valid and silently drops all captures.
func NewClient(cfg config.AnalyticsConfig) *Client {
	if cfg.PostHogKey == "" {
		log.Info().Msg("Analytics disabled (no PostHog key)")
		return &Client{}
	}
	ph, err := posthog.NewWithConfig(cfg.PostHogKey, posthog.Config{
		Endpoint: cfg.PostHogEndpoint,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize PostHog client, analytics disabled")
		return &Client{}
	}
	return &Client{ph: ph}
}

// Capture records an event for the given distinct id. Failures are
// logged and swallowed; analytics must never affect event handling.
func (c *Client) Capture(distinctID, event string, properties map[string]any) {
	if c.ph == nil {
		return
	}
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	if err := c.ph.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	}); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("Failed to enqueue analytics event")
	}
}

// Close flushes buffered events. Safe on a disabled client.
func (c *Client) Close() error {
	if c.ph == nil {
		return nil
	}
	return c.ph.Close()
}
