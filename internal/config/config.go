package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"daybook/internal/model"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultWeekStart      = "monday"
	defaultRefreshCron    = "*/15 * * * *"
	defaultHorizonDays    = 62
	defaultBackfillDays   = 7
	defaultMaxOccurrences = 5000
	defaultDatabasePath   = "./var/daybook.db"
	defaultCacheDir       = "./var/ics-cache"
)

// ICSConfig describes one subscribed feed. Color and Label are applied to
// every event read from it.
type ICSConfig struct {
	ID    string      `yaml:"id" json:"id"`
	URL   string      `yaml:"url" json:"url"`
	Name  string      `yaml:"name,omitempty" json:"name,omitempty"`
	Color model.Color `yaml:"color,omitempty" json:"color,omitempty"`
	Label string      `yaml:"label,omitempty" json:"label,omitempty"`
}

type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

type LayoutConfig struct {
	MinutesPerUnit int     `yaml:"minutes_per_unit" json:"minutes_per_unit"`
	MinHeightUnits float64 `yaml:"min_height_units" json:"min_height_units"`
}

type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all occurrences are displayed in.
	Timezone string `yaml:"timezone" json:"timezone"`
	// WeekStart is "monday" or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a standard five-field cron spec.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays and BackfillDays bound the window kept expanded in the
	// snapshot, relative to today.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	MaxOccurrences int          `yaml:"max_occurrences" json:"max_occurrences"`
	Layout         LayoutConfig `yaml:"layout" json:"layout"`

	LogLevel     string `yaml:"log_level" json:"log_level"`
	DatabasePath string `yaml:"database" json:"database"`
	CacheDir     string `yaml:"cache_dir" json:"cache_dir"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth enables HTTP Basic Auth on everything except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func DefaultConfig() *Config {
	c := &Config{BackfillDays: defaultBackfillDays}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults so partial files still work.
// It does not reject anything; see Validate.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart == "" {
		c.WeekStart = defaultWeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = defaultBackfillDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.Layout.MinutesPerUnit <= 0 {
		c.Layout.MinutesPerUnit = 15
	}
	if c.Layout.MinHeightUnits <= 0 {
		c.Layout.MinHeightUnits = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("unknown timezone %q: %v", c.Timezone, err))
	}
	if c.WeekStart != "monday" && c.WeekStart != "sunday" {
		problems = append(problems, fmt.Sprintf("week_start %q must be monday or sunday", c.WeekStart))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		problems = append(problems, fmt.Sprintf("invalid refresh cron %q: %v", c.RefreshCron, err))
	}
	if c.HorizonDays > 3660 {
		problems = append(problems, fmt.Sprintf("horizon_days %d must be at most 3660", c.HorizonDays))
	}
	if c.Layout.MinutesPerUnit > 60 {
		problems = append(problems, fmt.Sprintf("layout.minutes_per_unit %d must be at most 60", c.Layout.MinutesPerUnit))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}

	seen := make(map[string]bool, len(c.ICS))
	for i, src := range c.ICS {
		switch {
		case src.ID == "":
			problems = append(problems, fmt.Sprintf("ics[%d]: id is required", i))
		case seen[src.ID]:
			problems = append(problems, fmt.Sprintf("ics[%d]: duplicate id %q", i, src.ID))
		}
		seen[src.ID] = true
		if !strings.HasPrefix(src.URL, "http://") && !strings.HasPrefix(src.URL, "https://") {
			problems = append(problems, fmt.Sprintf("ics[%d]: url must be http(s)", i))
		}
	}

	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		problems = append(problems, "basic_auth needs both username and password")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Location returns the display timezone, or UTC when it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// ApplyEnv overrides file values with DAYBOOK_* variables.
func (c *Config) ApplyEnv() {
	c.Listen = getEnv("DAYBOOK_LISTEN", c.Listen)
	c.Timezone = getEnv("DAYBOOK_TIMEZONE", c.Timezone)
	c.WeekStart = getEnv("DAYBOOK_WEEK_START", c.WeekStart)
	c.RefreshCron = getEnv("DAYBOOK_REFRESH", c.RefreshCron)
	c.HorizonDays = getEnvInt("DAYBOOK_HORIZON_DAYS", c.HorizonDays)
	c.BackfillDays = getEnvInt("DAYBOOK_BACKFILL_DAYS", c.BackfillDays)
	c.LogLevel = getEnv("DAYBOOK_LOG_LEVEL", c.LogLevel)
	c.DatabasePath = getEnv("DAYBOOK_DATABASE", c.DatabasePath)
	c.CacheDir = getEnv("DAYBOOK_CACHE_DIR", c.CacheDir)

	user, pass := os.Getenv("DAYBOOK_BASIC_AUTH_USER"), os.Getenv("DAYBOOK_BASIC_AUTH_PASSWORD")
	if user != "" || pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
}

// Load reads the YAML file at path. A missing file is created with the
// defaults (0600) and those defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			return cfg, Save(path, cfg)
		}
		return nil, err
	}

	// Keys missing from the file keep their defaults.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg atomically through a temp file in the same directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".daybook-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
