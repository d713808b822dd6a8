package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRefreshMinutes     = 15
	DefaultMatchWindowMinutes = 90
	// MinMinutes is the floor applied to both refresh and match window.
	MinMinutes = 5
)

// FeedConfig describes one timetable feed to publish.
type FeedConfig struct {
	// ID names the feed in URLs (/ical/{id}) and in the state file name.
	ID string `yaml:"id" json:"id" validate:"required,max=64"`
	// Name is the calendar display name. Defaults to "Timetable of <user>".
	Name string `yaml:"name" json:"name"`
	// URL is the upstream ICS timetable endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// User is the viewing user's display name; it salts identifiers.
	User string `yaml:"user" json:"user"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone decides which calendar day an entry belongs to.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	// RefreshCron is a cron spec for periodic passes. Empty derives
	// "@every <RefreshMinutes>m".
	RefreshCron    string `yaml:"refresh" json:"refresh"`
	RefreshMinutes int    `yaml:"refresh_minutes" json:"refresh_minutes" validate:"gte=5"`

	// MatchWindowMinutes bounds fuzzy identity matching.
	MatchWindowMinutes int `yaml:"match_window_minutes" json:"match_window_minutes" validate:"gte=5"`

	StateDir string `yaml:"state_dir" json:"state_dir" validate:"required"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir" validate:"required"`

	// HorizonDays / BackfillDays bound the expanded timetable window.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days" validate:"gte=1"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days" validate:"gte=0"`

	// RetentionDays prunes records that ended more than N days ago.
	// 0 keeps every record.
	RetentionDays int `yaml:"retention_days" json:"retention_days" validate:"gte=0"`

	LogLevel  string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" json:"log_format" validate:"omitempty,oneof=console json"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds" validate:"dive"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:3000",
		Timezone:           "Europe/Paris",
		RefreshMinutes:     DefaultRefreshMinutes,
		MatchWindowMinutes: DefaultMatchWindowMinutes,
		StateDir:           "/var/lib/ttcal",
		CacheDir:           "/var/lib/ttcal/ics-cache",
		HorizonDays:        28,
		BackfillDays:       7,
		LogLevel:           "info",
		LogFormat:          "console",
		Feeds:              []FeedConfig{},
	}
}

// Normalize fills in zero values and clamps the minute floors.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshMinutes == 0 {
		c.RefreshMinutes = DefaultRefreshMinutes
	}
	if c.RefreshMinutes < MinMinutes {
		c.RefreshMinutes = MinMinutes
	}
	if c.MatchWindowMinutes == 0 {
		c.MatchWindowMinutes = DefaultMatchWindowMinutes
	}
	if c.MatchWindowMinutes < MinMinutes {
		c.MatchWindowMinutes = MinMinutes
	}
	if c.RefreshCron == "" {
		c.RefreshCron = fmt.Sprintf("@every %dm", c.RefreshMinutes)
	}
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.StateDir, "ics-cache")
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		f := &c.Feeds[i]
		if f.ID == "" {
			f.ID = fmt.Sprintf("feed%d", i+1)
		}
		if f.Name == "" {
			if f.User != "" {
				f.Name = "Timetable of " + f.User
			} else {
				f.Name = "Timetable"
			}
		}
	}
}

var (
	validate = validator.New(validator.WithRequiredStructEnabled())
	feedIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Validate checks field constraints, timezone and feed id uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if !feedIDRe.MatchString(f.ID) {
			return fmt.Errorf("config: feed id %q must match %s", f.ID, feedIDRe)
		}
		if seen[f.ID] {
			return fmt.Errorf("config: duplicate feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// MatchWindow returns the fuzzy match window as a duration.
func (c *Config) MatchWindow() time.Duration {
	return time.Duration(c.MatchWindowMinutes) * time.Minute
}

// StatePath returns the record file of a feed.
func (c *Config) StatePath(feedID string) string {
	return filepath.Join(c.StateDir, "event-state-"+feedID+".json")
}

// ApplyEnv overrides fields from TTCAL_* variables. getenv is os.Getenv in
// production. TTCAL_SOURCE_URL / TTCAL_SOURCE_USER configure the first feed,
// creating it when the file lists none.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// Values derived by Normalize from an overridden field are re-derived.
	if v := strings.TrimSpace(getenv("TTCAL_STATE_DIR")); v != "" {
		if c.CacheDir == filepath.Join(c.StateDir, "ics-cache") {
			c.CacheDir = ""
		}
		c.StateDir = v
	}
	if v := strings.TrimSpace(getenv("TTCAL_REFRESH_MINUTES")); v != "" {
		if c.RefreshCron == fmt.Sprintf("@every %dm", c.RefreshMinutes) {
			c.RefreshCron = ""
		}
		num("TTCAL_REFRESH_MINUTES", &c.RefreshMinutes)
	}

	str("TTCAL_LISTEN", &c.Listen)
	str("TTCAL_TIMEZONE", &c.Timezone)
	str("TTCAL_LOG_LEVEL", &c.LogLevel)
	num("TTCAL_MATCH_WINDOW_MINUTES", &c.MatchWindowMinutes)
	num("TTCAL_RETENTION_DAYS", &c.RetentionDays)

	url := strings.TrimSpace(getenv("TTCAL_SOURCE_URL"))
	user := strings.TrimSpace(getenv("TTCAL_SOURCE_USER"))
	if url == "" && user == "" {
		return
	}
	if len(c.Feeds) == 0 {
		c.Feeds = append(c.Feeds, FeedConfig{ID: "default"})
	}
	if url != "" {
		c.Feeds[0].URL = url
	}
	if user != "" {
		if c.Feeds[0].Name == "Timetable" || c.Feeds[0].Name == "Timetable of "+c.Feeds[0].User {
			c.Feeds[0].Name = ""
		}
		c.Feeds[0].User = user
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - missing file: write defaults with 0600 perms and return them
//   - existing file: unmarshal, normalize
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.Normalize()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
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

	tmp, err := os.CreateTemp(dir, ".ttcal-config-*.tmp")
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
