package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FlexibleStringSlice accepts both a JSON array of strings and a single
// comma-separated string. The corpus allow-list is written either way.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = SplitList(s)
	return nil
}

// SplitList splits a comma-separated value, trimming blanks. A leading
// "[" is handed to the JSON decoder so env vars may carry either form.
func SplitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var ss []string
		if err := json.Unmarshal([]byte(s), &ss); err == nil {
			return ss
		}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Config is the root configuration for the kaiwa service.
type Config struct {
	Corpus    CorpusConfig    `json:"corpus"`
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Usage     UsageConfig     `json:"usage"`
	Digest    DigestConfig    `json:"digest,omitempty"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// CorpusConfig locates the conversation corpus on disk.
type CorpusConfig struct {
	// Root is the directory whose children are project directories.
	Root string `json:"root"`
	// Projects is an optional allow-list of source paths (not project
	// ids); when non-empty, only matching projects are served.
	Projects FlexibleStringSlice `json:"projects,omitempty"`
	// Timezone labels civil dates: date filters, daily counts.
	Timezone string `json:"timezone"`
}

// Location returns the display timezone, falling back to UTC when the
// configured name does not load.
func (c *CorpusConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GatewayConfig configures the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DatabaseConfig selects the notification store backend.
// PostgresDSN is never read from config.json, only from the
// KAIWA_POSTGRES_DSN environment variable.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
	Path        string `json:"path,omitempty"` // sqlite file, standalone mode
	PostgresDSN string `json:"-"`
}

// IsManagedMode returns true when notifications are stored in Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// Subscription plan identifiers.
const (
	PlanPro    = "pro"
	PlanMax5x  = "max5x"
	PlanMax20x = "max20x"
)

// PlanLimits are the token budgets percentages are computed against.
// Weekly plan limits are published in usage-hours, not tokens; the
// weekly figure here is an empirical estimate and is reported as such.
type PlanLimits struct {
	SessionTokens int64 `json:"session_tokens"`
	WeeklyTokens  int64 `json:"weekly_tokens"`
}

var planTable = map[string]PlanLimits{
	PlanPro:    {SessionTokens: 19_000, WeeklyTokens: 304_000},
	PlanMax5x:  {SessionTokens: 88_000, WeeklyTokens: 1_410_000},
	PlanMax20x: {SessionTokens: 220_000, WeeklyTokens: 2_820_000},
}

// LimitsFor returns the token budgets for a plan id.
func LimitsFor(plan string) (PlanLimits, bool) {
	l, ok := planTable[plan]
	return l, ok
}

// CorrectionFactors scale raw token counters into reported figures.
type CorrectionFactors struct {
	Session        float64 `json:"session"`
	WeeklyAll      float64 `json:"weekly_all"`
	WeeklyPerModel float64 `json:"weekly_per_model"`
}

// UsageConfig configures the token-usage engine.
type UsageConfig struct {
	Plan        string            `json:"plan"`
	Models      []string          `json:"models,omitempty"` // per-model weekly horizons, substring match
	Corrections CorrectionFactors `json:"corrections"`
}

// DigestConfig schedules the periodic usage digest. Empty cron = off.
type DigestConfig struct {
	Cron string `json:"cron,omitempty"`
}

// NotifyConfig configures outbound notification forwarding.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
}

// TelegramConfig forwards hook notifications to a Telegram chat.
type TelegramConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

// DiscordConfig forwards hook notifications to a Discord channel.
type DiscordConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
// Requires building with -tags otel.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // host:port of the OTLP collector
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// TailscaleConfig configures the optional Tailscale tsnet listener.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env KAIWA_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

// LoggingConfig sets the slog level: "debug", "info", "warn", "error".
type LoggingConfig struct {
	Level string `json:"level,omitempty"`
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Corpus.Root == "" {
		return fmt.Errorf("corpus.root must not be empty")
	}
	if _, err := time.LoadLocation(c.Corpus.Timezone); err != nil {
		return fmt.Errorf("corpus.timezone %q: %w", c.Corpus.Timezone, err)
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if _, ok := planTable[c.Usage.Plan]; !ok {
		return fmt.Errorf("usage.plan %q: unknown plan (want pro, max5x, or max20x)", c.Usage.Plan)
	}
	switch c.Database.Mode {
	case "", "standalone", "managed":
	default:
		return fmt.Errorf("database.mode %q: want standalone or managed", c.Database.Mode)
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.mode is managed but KAIWA_POSTGRES_DSN is not set")
	}
	return nil
}
