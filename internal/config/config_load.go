package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Corpus: CorpusConfig{
			Root:     "~/.claude/projects",
			Timezone: "Asia/Tokyo",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8954,
		},
		Database: DatabaseConfig{
			Mode: "standalone",
			Path: "~/.kaiwa/notifications.db",
		},
		Usage: UsageConfig{
			Plan:   PlanPro,
			Models: []string{"opus", "sonnet"},
			Corrections: CorrectionFactors{
				Session:        1.0,
				WeeklyAll:      1.0,
				WeeklyPerModel: 1.0,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				*dst = f
			}
		}
	}

	envStr("KAIWA_PROJECTS_PATH", &c.Corpus.Root)
	if v := os.Getenv("KAIWA_PROJECTS"); v != "" {
		c.Corpus.Projects = SplitList(v)
	}
	envStr("KAIWA_TIMEZONE", &c.Corpus.Timezone)

	envStr("KAIWA_HOST", &c.Gateway.Host)
	if v := os.Getenv("KAIWA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envStr("KAIWA_GATEWAY_TOKEN", &c.Gateway.Token)

	// Database
	envStr("KAIWA_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("KAIWA_MODE", &c.Database.Mode)
	envStr("KAIWA_DB_PATH", &c.Database.Path)

	// Usage accounting
	envStr("KAIWA_PLAN", &c.Usage.Plan)
	envFloat("KAIWA_CORRECTION_SESSION", &c.Usage.Corrections.Session)
	envFloat("KAIWA_CORRECTION_WEEKLY", &c.Usage.Corrections.WeeklyAll)
	envFloat("KAIWA_CORRECTION_WEEKLY_MODEL", &c.Usage.Corrections.WeeklyPerModel)

	// Notification forwarders
	envStr("KAIWA_TELEGRAM_TOKEN", &c.Notify.Telegram.Token)
	if v := os.Getenv("KAIWA_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notify.Telegram.ChatID = id
		}
	}
	envStr("KAIWA_DISCORD_TOKEN", &c.Notify.Discord.Token)
	envStr("KAIWA_DISCORD_CHANNEL_ID", &c.Notify.Discord.ChannelID)

	// Auto-enable forwarders if credentials are provided via env
	if c.Notify.Telegram.Token != "" && c.Notify.Telegram.ChatID != 0 {
		c.Notify.Telegram.Enabled = true
	}
	if c.Notify.Discord.Token != "" && c.Notify.Discord.ChannelID != "" {
		c.Notify.Discord.Enabled = true
	}

	// Telemetry
	envStr("KAIWA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("KAIWA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("KAIWA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("KAIWA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("KAIWA_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("KAIWA_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("KAIWA_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("KAIWA_TSNET_DIR", &c.Tailscale.StateDir)

	envStr("KAIWA_LOG_LEVEL", &c.Logging.Level)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Exposed for callers that mutate the config after Load.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
