package switchpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full service configuration: detection pipeline,
// event preparation, HTTP API, event store, archive, streaming, and
// notifications.
type Config struct {
	// Analyzer configures the detection pipeline
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// Prep sets the defaults for turning stored events into a series
	Prep PrepConfig `yaml:"prep"`

	// Server configures the HTTP API
	Server ServerConfig `yaml:"server"`

	// Stream configures WebSocket streaming of results
	Stream StreamConfig `yaml:"stream"`

	// Store configures the SQLite event store.
	// If nil, events are kept in memory.
	Store *SQLiteStoreConfig `yaml:"store"`

	// Archive configures long-term analysis storage.
	// If nil, analyses live only in process memory.
	Archive *ArchiveConfig `yaml:"archive"`

	// Notify configures webhook notifications.
	// If nil, no notifications are sent.
	Notify *NotifyConfig `yaml:"notify"`

	// Logging controls structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// NewLogger returns a slog.Logger configured for the desired verbosity
// and format.
func (c LoggingConfig) NewLogger() *slog.Logger {
	handlerLevel := slog.LevelInfo
	switch strings.ToLower(c.Level) {
	case "debug":
		handlerLevel = slog.LevelDebug
	case "warn":
		handlerLevel = slog.LevelWarn
	case "error":
		handlerLevel = slog.LevelError
	}

	var handler slog.Handler
	if c.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: handlerLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: handlerLevel})
	}

	return slog.New(handler)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Analyzer: DefaultAnalyzerConfig(),
		Prep:     DefaultPrepConfig(),
		Server:   DefaultServerConfig(),
		Stream:   DefaultStreamConfig(),
		Logging:  LoggingConfig{Level: "info"},
	}
}

// LoadConfig initialises Config from a YAML file and optional
// environment overrides. An empty path falls back to the
// SWITCHPOINT_CONFIG environment variable; when neither is set the
// defaults are returned.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SWITCHPOINT_CONFIG")
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWITCHPOINT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SWITCHPOINT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SWITCHPOINT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SWITCHPOINT_DB_PATH"); v != "" {
		if cfg.Store == nil {
			store := DefaultSQLiteStoreConfig()
			cfg.Store = &store
		}
		cfg.Store.Path = v
	}
	if v := os.Getenv("SWITCHPOINT_ARCHIVE_DIR"); v != "" {
		if cfg.Archive == nil {
			cfg.Archive = &ArchiveConfig{}
		}
		cfg.Archive.Dir = v
	}
	if v := os.Getenv("SWITCHPOINT_S3_BUCKET"); v != "" {
		if cfg.Archive == nil {
			cfg.Archive = &ArchiveConfig{}
		}
		if cfg.Archive.S3 == nil {
			cfg.Archive.S3 = &S3ArchiveConfig{}
		}
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("SWITCHPOINT_ENCRYPTION_PASSWORD"); v != "" {
		if cfg.Archive == nil {
			cfg.Archive = &ArchiveConfig{}
		}
		cfg.Archive.Encryption.Enabled = true
		cfg.Archive.Encryption.KeyPassword = v
	}
	if v := os.Getenv("SWITCHPOINT_WEBHOOK_URL"); v != "" {
		if cfg.Notify == nil {
			notify := DefaultNotifyConfig()
			cfg.Notify = &notify
		}
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("SWITCHPOINT_API_KEY"); v != "" {
		if cfg.Server.Auth == nil {
			cfg.Server.Auth = &AuthConfig{}
		}
		cfg.Server.Auth.Enabled = true
		cfg.Server.Auth.APIKeys = append(cfg.Server.Auth.APIKeys, v)
	}
}

// Validate reports configuration errors that would otherwise only
// surface at first use.
func (c *Config) Validate() error {
	prior := c.Analyzer.Prior
	if prior.Shape < 0 || prior.Rate < 0 || math.IsNaN(prior.Shape) || math.IsNaN(prior.Rate) {
		return fmt.Errorf("analyzer.prior: shape and rate must be non-negative")
	}
	if lvl := c.Analyzer.CredibleLevel; lvl < 0 || lvl >= 1 {
		return fmt.Errorf("analyzer.credible_level: %v outside [0, 1)", lvl)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Prep.TimeZone != "" {
		if _, err := time.LoadLocation(c.Prep.TimeZone); err != nil {
			return fmt.Errorf("prep.time_zone: %w", err)
		}
	}
	if c.Notify != nil {
		if p := c.Notify.MinProbability; p < 0 || p > 1 {
			return fmt.Errorf("notify.min_probability: %v outside [0, 1]", p)
		}
	}
	if c.Archive != nil && c.Archive.S3 != nil && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3: bucket is required")
	}
	return nil
}

// String returns the search method name.
func (m SearchMethod) String() string {
	switch m {
	case SearchMethodDirect:
		return "direct"
	default:
		return "prefix_sum"
	}
}

// UnmarshalYAML accepts method names ("prefix_sum", "direct") as well
// as their numeric values.
func (m *SearchMethod) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err == nil {
		switch strings.ToLower(name) {
		case "", "prefix_sum", "prefix-sum":
			*m = SearchMethodPrefixSum
		case "direct", "naive":
			*m = SearchMethodDirect
		default:
			return fmt.Errorf("unknown search method %q", name)
		}
		return nil
	}

	var n int
	if err := value.Decode(&n); err != nil {
		return err
	}
	*m = SearchMethod(n)
	return nil
}
