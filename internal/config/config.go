package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Amo     AmoConfig     `yaml:"amo"`
	Google  GoogleConfig  `yaml:"google"`
	Sync    SyncConfig    `yaml:"sync"`
	Token   TokenConfig   `yaml:"token"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AmoConfig contains amoCRM connection settings.
// Credentials are env-only and never read from YAML.
type AmoConfig struct {
	Domain       string `yaml:"domain"`
	ClientID     string `yaml:"-"` // env-only
	ClientSecret string `yaml:"-"` // env-only
	RedirectURI  string `yaml:"redirect_uri"`
	AccessToken  string `yaml:"-"` // env-only
	RefreshToken string `yaml:"-"` // env-only
}

// GoogleConfig contains Google Sheets settings.
type GoogleConfig struct {
	CredentialsJSON string `yaml:"-"` // env-only, service account JSON
	SheetID         string `yaml:"sheet_id"`
}

// SyncConfig contains deal sync settings.
type SyncConfig struct {
	PipelineName    string `yaml:"pipeline_name"`
	DebugSkipFilter bool   `yaml:"debug_skip_filter"`
	Environment     string `yaml:"environment"`
}

// TokenConfig contains token refresh scheduling settings.
type TokenConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"`
	BackupInterval  Duration `yaml:"backup_interval"`
	StartupDelay    Duration `yaml:"startup_delay"`
	RefreshLead     Duration `yaml:"refresh_lead"`
	ForceAfter      Duration `yaml:"force_after"`
}

// JournalConfig contains the local sync journal settings.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("AMOSHEETS_CONFIG_PATH", "config/amosheets.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Sync: SyncConfig{
			PipelineName: "ЕВГ СПБ",
			Environment:  "production",
		},
		Token: TokenConfig{
			RefreshInterval: Duration(1 * time.Hour),
			BackupInterval:  Duration(30 * time.Minute),
			StartupDelay:    Duration(5 * time.Second),
			RefreshLead:     Duration(1 * time.Hour),
			ForceAfter:      Duration(23 * time.Hour),
		},
		Journal: JournalConfig{
			Path: "data/amosheets.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AMOSHEETS_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("AMOSHEETS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("AMOSHEETS_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// amoCRM (AMO_* names match the upstream deployment convention)
	if v := os.Getenv("AMO_DOMAIN"); v != "" {
		cfg.Amo.Domain = v
	}
	if v := os.Getenv("AMO_CLIENT_ID"); v != "" {
		cfg.Amo.ClientID = v
	}
	if v := os.Getenv("AMO_CLIENT_SECRET"); v != "" {
		cfg.Amo.ClientSecret = v
	}
	if v := os.Getenv("AMO_REDIRECT_URI"); v != "" {
		cfg.Amo.RedirectURI = v
	}
	if v := os.Getenv("AMO_ACCESS_TOKEN"); v != "" {
		cfg.Amo.AccessToken = v
	}
	if v := os.Getenv("AMO_REFRESH_TOKEN"); v != "" {
		cfg.Amo.RefreshToken = v
	}

	// Google Sheets
	if v := os.Getenv("GOOGLE_CREDENTIALS"); v != "" {
		cfg.Google.CredentialsJSON = v
	}
	if v := os.Getenv("GOOGLE_SHEET_ID"); v != "" {
		cfg.Google.SheetID = v
	}

	// Sync
	if v := os.Getenv("AMOSHEETS_PIPELINE_NAME"); v != "" {
		cfg.Sync.PipelineName = v
	}
	if v := os.Getenv("DEBUG_SKIP_FILTER"); v != "" {
		cfg.Sync.DebugSkipFilter = v == "true" || v == "1"
	}
	if v := os.Getenv("AMOSHEETS_ENV"); v != "" {
		cfg.Sync.Environment = v
	}

	// Token scheduling
	if v := os.Getenv("AMOSHEETS_TOKEN_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Token.RefreshInterval = Duration(d)
		}
	}
	if v := os.Getenv("AMOSHEETS_TOKEN_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Token.BackupInterval = Duration(d)
		}
	}
	if v := os.Getenv("AMOSHEETS_TOKEN_STARTUP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Token.StartupDelay = Duration(d)
		}
	}

	// Journal
	if v := os.Getenv("AMOSHEETS_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// Log
	if v := os.Getenv("AMOSHEETS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AMOSHEETS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (AMOSHEETS_DEV_MODE=true), credential validation is skipped.
func (c *Config) validate() error {
	if os.Getenv("AMOSHEETS_DEV_MODE") == "true" {
		return nil
	}

	if c.Amo.Domain == "" {
		return errors.New("AMO_DOMAIN is required")
	}
	if c.Amo.ClientID == "" {
		return errors.New("AMO_CLIENT_ID is required")
	}
	if c.Amo.ClientSecret == "" {
		return errors.New("AMO_CLIENT_SECRET is required")
	}
	if c.Amo.RefreshToken == "" {
		return errors.New("AMO_REFRESH_TOKEN is required")
	}
	if c.Google.CredentialsJSON == "" {
		return errors.New("GOOGLE_CREDENTIALS is required")
	}
	if c.Google.SheetID == "" {
		return errors.New("GOOGLE_SHEET_ID is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
