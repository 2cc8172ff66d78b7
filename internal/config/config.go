// Package config loads insureflow settings: defaults, then a YAML file, then
// INSUREFLOW_* environment variables. Command line flags are applied by the
// caller last.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is read-only after Load returns.
type Config struct {
	DataDir string       `yaml:"data_dir"`
	Log     LogConfig    `yaml:"log"`
	HTTP    HTTPConfig   `yaml:"http"`
	Google  GoogleConfig `yaml:"google"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig contains the local API settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL is where the browser reaches the server; the OAuth redirect
	// URI is derived from it.
	BaseURL         string   `yaml:"base_url"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// GoogleConfig contains the spreadsheet connection settings.
type GoogleConfig struct {
	ClientSecret        string   `yaml:"-"` // env-only, never in YAML
	RequestsPerMinute   int      `yaml:"requests_per_minute"`
	SheetTitle          string   `yaml:"sheet_title"`
	NewSpreadsheetTitle string   `yaml:"new_spreadsheet_title"`
	GrantTimeout        Duration `yaml:"grant_timeout"`
}

// Duration is a time.Duration read from a YAML string such as "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
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

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Log:     LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			Addr:            "localhost:8080",
			BaseURL:         "http://localhost:8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Google: GoogleConfig{
			RequestsPerMinute:   60,
			SheetTitle:          "Policies",
			NewSpreadsheetTitle: "InsureFlow CRM Data",
			GrantTimeout:        Duration(5 * time.Minute),
		},
	}
}

// Load reads the configuration. path may be empty: INSUREFLOW_CONFIG is used,
// then <data_dir>/insureflow.yaml. A missing file is not an error unless path
// was given explicitly. The caller applies flags and then calls Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if v := os.Getenv("INSUREFLOW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	explicit := path != ""
	if !explicit {
		path = os.Getenv("INSUREFLOW_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = filepath.Join(cfg.DataDir, "insureflow.yaml")
	}
	if err := loadYAMLFile(cfg, path, explicit); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadYAMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies non-empty INSUREFLOW_* variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INSUREFLOW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("INSUREFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("INSUREFLOW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("INSUREFLOW_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("INSUREFLOW_BASE_URL"); v != "" {
		cfg.HTTP.BaseURL = v
	}
	if v := os.Getenv("INSUREFLOW_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("INSUREFLOW_GOOGLE_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Google.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("INSUREFLOW_GOOGLE_SHEET_TITLE"); v != "" {
		cfg.Google.SheetTitle = v
	}
	if v := os.Getenv("INSUREFLOW_GOOGLE_GRANT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Google.GrantTimeout = Duration(d)
		}
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	u, err := url.Parse(c.HTTP.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("http.base_url must be an absolute http(s) URL, got %q", c.HTTP.BaseURL)
	}
	if c.Google.SheetTitle == "" {
		return errors.New("google.sheet_title is required")
	}
	if c.Google.GrantTimeout <= 0 {
		return errors.New("google.grant_timeout must be positive")
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return l, nil
}

// RedirectURL returns the OAuth redirect URI for path under BaseURL.
func (c *Config) RedirectURL(path string) string {
	return strings.TrimRight(c.HTTP.BaseURL, "/") + path
}

// Origin returns the scheme and host of BaseURL, the origin that must be
// registered with the OAuth client.
func (c *Config) Origin() string {
	u, err := url.Parse(c.HTTP.BaseURL)
	if err != nil {
		return c.HTTP.BaseURL
	}
	return u.Scheme + "://" + u.Host
}
