package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Corpus.Root != "~/.claude/projects" {
		t.Errorf("Corpus.Root = %q, want ~/.claude/projects", cfg.Corpus.Root)
	}
	if cfg.Corpus.Timezone != "Asia/Tokyo" {
		t.Errorf("Corpus.Timezone = %q, want Asia/Tokyo", cfg.Corpus.Timezone)
	}
	if cfg.Gateway.Port != 8954 {
		t.Errorf("Gateway.Port = %d, want 8954", cfg.Gateway.Port)
	}
	if cfg.Usage.Plan != PlanPro {
		t.Errorf("Usage.Plan = %q, want pro", cfg.Usage.Plan)
	}
	if cfg.Usage.Corrections.Session != 1.0 {
		t.Errorf("Corrections.Session = %v, want 1.0", cfg.Usage.Corrections.Session)
	}
}

func TestLoadJSON5OverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// comments are fine in json5
		corpus: { root: "/srv/claude/projects", timezone: "UTC" },
		gateway: { port: 9000 },
		usage: { plan: "max5x" },
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Corpus.Root != "/srv/claude/projects" {
		t.Errorf("Corpus.Root = %q", cfg.Corpus.Root)
	}
	if cfg.Corpus.Timezone != "UTC" {
		t.Errorf("Corpus.Timezone = %q", cfg.Corpus.Timezone)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("Gateway.Port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("Gateway.Host = %q, default should survive partial file", cfg.Gateway.Host)
	}
	if cfg.Usage.Plan != PlanMax5x {
		t.Errorf("Usage.Plan = %q, want max5x", cfg.Usage.Plan)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{corpus: {root: "/from/file"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KAIWA_PROJECTS_PATH", "/from/env")
	t.Setenv("KAIWA_PORT", "7777")
	t.Setenv("KAIWA_PROJECTS", "/Users/a/proj,/Users/b/other")
	t.Setenv("KAIWA_CORRECTION_SESSION", "1.25")
	t.Setenv("KAIWA_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("KAIWA_TELEGRAM_CHAT_ID", "12345")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Corpus.Root != "/from/env" {
		t.Errorf("Corpus.Root = %q, want /from/env", cfg.Corpus.Root)
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("Gateway.Port = %d, want 7777", cfg.Gateway.Port)
	}
	if len(cfg.Corpus.Projects) != 2 || cfg.Corpus.Projects[0] != "/Users/a/proj" {
		t.Errorf("Corpus.Projects = %v", cfg.Corpus.Projects)
	}
	if cfg.Usage.Corrections.Session != 1.25 {
		t.Errorf("Corrections.Session = %v, want 1.25", cfg.Usage.Corrections.Session)
	}
	if !cfg.Notify.Telegram.Enabled {
		t.Error("telegram forwarder should auto-enable when env credentials are set")
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"json array", `["/a/b", "/c/d"]`, []string{"/a/b", "/c/d"}},
		{"comma string", `"/a/b, /c/d"`, []string{"/a/b", "/c/d"}},
		{"single path", `"/a/b"`, []string{"/a/b"}},
		{"empty string", `""`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FlexibleStringSlice
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitListJSONForm(t *testing.T) {
	got := SplitList(`["/x", "/y"]`)
	if len(got) != 2 || got[0] != "/x" || got[1] != "/y" {
		t.Errorf("SplitList json form = %v", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Corpus.Root = "/tmp/projects"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"empty root", func(c *Config) { c.Corpus.Root = "" }, true},
		{"bad timezone", func(c *Config) { c.Corpus.Timezone = "Mars/Olympus" }, true},
		{"port zero", func(c *Config) { c.Gateway.Port = 0 }, true},
		{"port too big", func(c *Config) { c.Gateway.Port = 70000 }, true},
		{"unknown plan", func(c *Config) { c.Usage.Plan = "enterprise" }, true},
		{"bad db mode", func(c *Config) { c.Database.Mode = "mysql" }, true},
		{"managed without dsn", func(c *Config) { c.Database.Mode = "managed" }, true},
		{"managed with dsn", func(c *Config) {
			c.Database.Mode = "managed"
			c.Database.PostgresDSN = "postgres://localhost/kaiwa"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLimitsFor(t *testing.T) {
	l, ok := LimitsFor(PlanMax20x)
	if !ok {
		t.Fatal("max20x should be a known plan")
	}
	if l.SessionTokens != 220_000 {
		t.Errorf("SessionTokens = %d, want 220000", l.SessionTokens)
	}
	if _, ok := LimitsFor("free"); ok {
		t.Error("unknown plan should not resolve")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in, want string
	}{
		{"~/x", home + "/x"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
