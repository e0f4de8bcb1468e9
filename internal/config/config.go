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

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription.
type ICSConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
	// User limits the feed to one user id; empty shares it with everyone.
	User string `yaml:"user,omitempty" json:"user,omitempty"`
}

type LogConfig struct {
	// Level is one of debug, info, error.
	Level string `yaml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format" json:"format"`
}

// DatabaseConfig selects the event store. An empty DSN keeps events in
// memory.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

// RedisConfig selects the remote-source cache. An empty Addr uses an
// in-process cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db" json:"db"`
}

// GoogleConfig holds the OAuth client used to read Google Calendar.
// Google sync is disabled while ClientID is empty.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	RedirectURL  string `yaml:"redirect_url" json:"redirect_url"`
	CalendarID   string `yaml:"calendar_id" json:"calendar_id"`
	TokenDir     string `yaml:"token_dir" json:"token_dir"`
}

func (g GoogleConfig) Enabled() bool {
	return g.ClientID != ""
}

// UserConfig is one account allowed to log in.
type UserConfig struct {
	ID           string `yaml:"id" json:"id"`
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"password_hash"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" json:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" json:"token_ttl"`
	Users     []UserConfig  `yaml:"users" json:"users"`
}

// SnapshotConfig controls the PNG capture taken after each refresh.
type SnapshotConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	OutputPath string `yaml:"output_path" json:"output_path"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
	// User is whose week is captured.
	User string `yaml:"user" json:"user"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone calendar days are resolved in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron spec (e.g. "*/15 * * * *") for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Log      LogConfig      `yaml:"log" json:"log"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`

	// CacheTTL is how long remote calendar fetches are reused.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	Google   GoogleConfig   `yaml:"google" json:"google"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	ICS      []ICSConfig    `yaml:"ics" json:"ics"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`

	// DataDir holds the ICS disk cache and, by default, OAuth tokens.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing or invalid values so that partially-filled
// configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch strings.ToLower(c.WeekStart) {
	case "sunday":
		c.WeekStart = "sunday"
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.DataDir == "" {
		c.DataDir = "./var"
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.TokenDir == "" {
		c.Google.TokenDir = filepath.Join(c.DataDir, "tokens")
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Auth.Users == nil {
		c.Auth.Users = []UserConfig{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = 800
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = 480
	}
	if c.Snapshot.OutputPath == "" {
		c.Snapshot.OutputPath = filepath.Join(c.DataDir, "week.png")
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	seen := make(map[string]bool)
	for _, u := range c.Auth.Users {
		if u.ID == "" || u.Username == "" || u.PasswordHash == "" {
			return fmt.Errorf("config: user %q needs id, username and password_hash", u.Username)
		}
		if seen[u.Username] {
			return fmt.Errorf("config: duplicate username %q", u.Username)
		}
		seen[u.Username] = true
	}
	for _, src := range c.ICS {
		if src.ID == "" || src.URL == "" {
			return fmt.Errorf("config: ics source %q needs id and url", src.Name)
		}
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// UserIDs lists every configured user id in config order.
func (c *Config) UserIDs() []string {
	ids := make([]string, 0, len(c.Auth.Users))
	for _, u := range c.Auth.Users {
		ids = append(ids, u.ID)
	}
	return ids
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist a default config is written there with 0600
// permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides file values with SCHEDCAL_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("SCHEDCAL_" + key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv("SCHEDCAL_" + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("SCHEDCAL_%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv("SCHEDCAL_" + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("SCHEDCAL_%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("LISTEN", &c.Listen)
	str("TIMEZONE", &c.Timezone)
	str("WEEK_START", &c.WeekStart)
	str("REFRESH", &c.RefreshCron)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATABASE_DSN", &c.Database.DSN)
	num("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	dur("CACHE_TTL", &c.CacheTTL)
	str("GOOGLE_CLIENT_ID", &c.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret)
	str("GOOGLE_REDIRECT_URL", &c.Google.RedirectURL)
	str("GOOGLE_CALENDAR_ID", &c.Google.CalendarID)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	dur("TOKEN_TTL", &c.Auth.TokenTTL)
	str("DATA_DIR", &c.DataDir)

	c.Normalize()
	return errors.Join(errs...)
}

// Save writes cfg to path atomically with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".schedcal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
