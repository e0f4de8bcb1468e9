package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" || cfg.WeekStart != "monday" || cfg.CacheTTL != 5*time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.CacheTTL != cfg.CacheTTL || again.Google.TokenDir != cfg.Google.TokenDir {
		t.Errorf("reload differs: %+v", again)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
timezone: UTC
week_start: SUNDAY
cache_ttl: 90s
database:
  dsn: postgres://localhost/schedcal
auth:
  jwt_secret: s3cret
  token_ttl: 1h
  users:
    - id: u1
      username: alice
      password_hash: hash
ics:
  - id: holidays
    name: Holidays
    url: https://example.com/h.ics
snapshot:
  enabled: true
  user: u1
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WeekStart != "sunday" || cfg.CacheTTL != 90*time.Second || cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("parsed = %+v", cfg)
	}
	if cfg.Database.DSN != "postgres://localhost/schedcal" || cfg.Database.MaxOpenConns != 10 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if len(cfg.ICS) != 1 || cfg.ICS[0].ID != "holidays" {
		t.Errorf("ics = %+v", cfg.ICS)
	}
	if !cfg.Snapshot.Enabled || cfg.Snapshot.Width != 800 || cfg.Snapshot.OutputPath != filepath.Join("./var", "week.png") {
		t.Errorf("snapshot = %+v", cfg.Snapshot)
	}
	if got := cfg.UserIDs(); len(got) != 1 || got[0] != "u1" {
		t.Errorf("user ids = %v", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCHEDCAL_LISTEN", ":9090")
	t.Setenv("SCHEDCAL_REDIS_DB", "3")
	t.Setenv("SCHEDCAL_CACHE_TTL", "2m")
	t.Setenv("SCHEDCAL_JWT_SECRET", "from-env")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Redis.DB != 3 || cfg.CacheTTL != 2*time.Minute || cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("env not applied: %+v", cfg)
	}

	t.Setenv("SCHEDCAL_REDIS_DB", "three")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected an error for a non-numeric SCHEDCAL_REDIS_DB")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SCHEDCAL_TEST_ENVFILE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCHEDCAL_TEST_ENVFILE", "")
	os.Unsetenv("SCHEDCAL_TEST_ENVFILE")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("SCHEDCAL_TEST_ENVFILE"); got != "loaded" {
		t.Errorf("env value = %q", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"incomplete user", func(c *Config) { c.Auth.Users = []UserConfig{{ID: "u1"}} }},
		{"duplicate user", func(c *Config) {
			u := UserConfig{ID: "u1", Username: "alice", PasswordHash: "h"}
			c.Auth.Users = []UserConfig{u, u}
		}},
		{"ics without url", func(c *Config) { c.ICS = []ICSConfig{{ID: "x"}} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Auth.JWTSecret = "secret"
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
