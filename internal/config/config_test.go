package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != defaultListen || cfg.BackfillDays != defaultBackfillDays || cfg.Layout.MinutesPerUnit != 15 {
		t.Errorf("defaults = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("Load() second error = %v", err)
	}
	if again.RefreshCron != cfg.RefreshCron || again.HorizonDays != cfg.HorizonDays {
		t.Errorf("reloaded = %+v", again)
	}
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
timezone: Europe/Rome
week_start: Sunday
ics:
  - id: work
    url: https://example.com/work.ics
    color: red
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeekStart != "sunday" || cfg.FirstWeekday() != time.Sunday {
		t.Errorf("week start = %q", cfg.WeekStart)
	}
	if len(cfg.ICS) != 1 || cfg.ICS[0].Color != "red" {
		t.Errorf("ics = %+v", cfg.ICS)
	}
	if cfg.MaxOccurrences != defaultMaxOccurrences {
		t.Errorf("max occurrences = %d", cfg.MaxOccurrences)
	}
	if cfg.BackfillDays != defaultBackfillDays || cfg.HorizonDays != defaultHorizonDays {
		t.Errorf("backfill/horizon = %d/%d, want defaults", cfg.BackfillDays, cfg.HorizonDays)
	}
}

func TestLoad_ExplicitZeroBackfill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backfill_days: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackfillDays != 0 {
		t.Errorf("backfill_days = %d, want 0", cfg.BackfillDays)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{"defaults", func(*Config) {}, nil},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, []string{"unknown timezone"}},
		{"bad cron", func(c *Config) { c.RefreshCron = "every minute" }, []string{"invalid refresh cron"}},
		{"bad week start", func(c *Config) { c.WeekStart = "friday" }, []string{"week_start"}},
		{
			"several ics problems",
			func(c *Config) {
				c.ICS = []ICSConfig{
					{ID: "a", URL: "https://x/a.ics"},
					{ID: "a", URL: "ftp://x/b.ics"},
				}
			},
			[]string{"duplicate id", "url must be http(s)"},
		},
		{"half basic auth", func(c *Config) { c.BasicAuth = &BasicAuthConfig{Username: "me"} }, []string{"basic_auth"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want %v", tt.want)
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("Validate() = %q, missing %q", err, w)
				}
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DAYBOOK_LISTEN", ":9090")
	t.Setenv("DAYBOOK_HORIZON_DAYS", "30")
	t.Setenv("DAYBOOK_BACKFILL_DAYS", "not-a-number")
	t.Setenv("DAYBOOK_BASIC_AUTH_USER", "me")
	t.Setenv("DAYBOOK_BASIC_AUTH_PASSWORD", "secret")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.Listen != ":9090" || cfg.HorizonDays != 30 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.BackfillDays != defaultBackfillDays {
		t.Errorf("invalid int should keep file value, got %d", cfg.BackfillDays)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "me" || cfg.BasicAuth.Password != "secret" {
		t.Errorf("basic auth = %+v", cfg.BasicAuth)
	}
}
