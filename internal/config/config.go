package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ForgeBot webhook service.
type Config struct {
	Port      int
	Version   string
	Bot       BotConfig
	GitHub    GitHubConfig
	Redis     RedisConfig
	Quota     QuotaConfig
	Geo       GeoConfig
	Alert     AlertConfig
	Analytics AnalyticsConfig
	Dispatch  DispatchConfig
	Telemetry TelemetryConfig
}

// BotConfig names the bot's identity and its opt-in conventions.
type BotConfig struct {
	// TriggerKeyword is matched case-insensitively against issue titles,
	// either as a prefix or as a "<keyword>:" substring.
	TriggerKeyword string
	// Login is the bot's own account login, used to recognize its PRs.
	Login string
	// BranchPrefix is the reserved branch namespace for bot-created PRs.
	BranchPrefix string
	// Marker label metadata.
	LabelName        string
	LabelColor       string
	LabelDescription string
}

type GitHubConfig struct {
	AppID          int64
	PrivateKeyPath string
	// WebhookSecret enables HMAC signature verification when non-empty.
	WebhookSecret string
}

type RedisConfig struct {
	URL string
	// RecordTTL is the whole-record expiration applied by the counter
	// store, independent of the counters themselves.
	RecordTTL time.Duration
}

type QuotaConfig struct {
	PaidMonthlyLimit  int64
	TrialMonthlyLimit int64
	FreeMonthlyLimit  int64
	// FreeDailyLimit applies to users geolocated outside the supported
	// countries (degrade when daily count >= limit).
	FreeDailyLimit int64
	// FallbackDailyLimit applies when geolocation is unresolved (degrade
	// when daily count > limit). Looser than FreeDailyLimit; kept as a
	// separate knob until product confirms the asymmetry.
	FallbackDailyLimit int64
	SupportedCountries []string
}

type GeoConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// AlertConfig holds the three priority-tiered webhook endpoints.
type AlertConfig struct {
	HighPriorityURL   string
	MediumPriorityURL string
	LowPriorityURL    string
}

type AnalyticsConfig struct {
	PostHogKey      string
	PostHogEndpoint string
}

type DispatchConfig struct {
	Workers   int
	QueueSize int
	// SyncTimeout bounds the one synchronous task call (check-run).
	SyncTimeout time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("FORGEBOT_PORT", 8080),
		Version: envStr("FORGEBOT_VERSION", "0.2.0"),
		Bot: BotConfig{
			TriggerKeyword:   envStr("BOT_TRIGGER_KEYWORD", "sweep"),
			Login:            envStr("BOT_LOGIN", "sweep-ai[bot]"),
			BranchPrefix:     envStr("BOT_BRANCH_PREFIX", "sweep/"),
			LabelName:        envStr("BOT_LABEL_NAME", "sweep"),
			LabelColor:       envStr("BOT_LABEL_COLOR", "9400D3"),
			LabelDescription: envStr("BOT_LABEL_DESCRIPTION", "Assigns the bot to an issue or pull request."),
		},
		GitHub: GitHubConfig{
			AppID:          envInt64("GITHUB_APP_ID", 0),
			PrivateKeyPath: envStr("GITHUB_APP_PRIVATE_KEY_PATH", ""),
			WebhookSecret:  envStr("GITHUB_WEBHOOK_SECRET", ""),
		},
		Redis: RedisConfig{
			URL:       envStr("REDIS_URL", "redis://localhost:6379/0"),
			RecordTTL: envDur("REDIS_RECORD_TTL", 28*24*time.Hour),
		},
		Quota: QuotaConfig{
			PaidMonthlyLimit:   envInt64("QUOTA_PAID_MONTHLY_LIMIT", 500),
			TrialMonthlyLimit:  envInt64("QUOTA_TRIAL_MONTHLY_LIMIT", 15),
			FreeMonthlyLimit:   envInt64("QUOTA_FREE_MONTHLY_LIMIT", 5),
			FreeDailyLimit:     envInt64("QUOTA_FREE_DAILY_LIMIT", 1),
			FallbackDailyLimit: envInt64("QUOTA_FALLBACK_DAILY_LIMIT", 3),
			SupportedCountries: envList("QUOTA_SUPPORTED_COUNTRIES", []string{"united states"}),
		},
		Geo: GeoConfig{
			BaseURL:   envStr("GEO_BASE_URL", "https://nominatim.openstreetmap.org"),
			UserAgent: envStr("GEO_USER_AGENT", "forgebot-location-checker"),
			Timeout:   envDur("GEO_TIMEOUT", 5*time.Second),
		},
		Alert: AlertConfig{
			HighPriorityURL:   envStr("ALERT_HIGH_PRIORITY_URL", ""),
			MediumPriorityURL: envStr("ALERT_MEDIUM_PRIORITY_URL", ""),
			LowPriorityURL:    envStr("ALERT_LOW_PRIORITY_URL", ""),
		},
		Analytics: AnalyticsConfig{
			PostHogKey:      envStr("POSTHOG_API_KEY", ""),
			PostHogEndpoint: envStr("POSTHOG_ENDPOINT", "https://app.posthog.com"),
		},
		Dispatch: DispatchConfig{
			Workers:     envInt("DISPATCH_WORKERS", 8),
			QueueSize:   envInt("DISPATCH_QUEUE_SIZE", 256),
			SyncTimeout: envDur("DISPATCH_SYNC_TIMEOUT", 30*time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "forgebot-webhook"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
