package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version this build understands.
const CurrentVersion = 1

// DirName is the workspace directory holding the database and config.
const DirName = ".rtm"

// Config represents the complete rtm configuration
type Config struct {
	Version int `json:"version" mapstructure:"version" toml:"version"`

	Storage StorageConfig `json:"storage" mapstructure:"storage" toml:"storage"`
	Commit  CommitConfig  `json:"commit" mapstructure:"commit" toml:"commit"`
	Jobs    JobsConfig    `json:"jobs" mapstructure:"jobs" toml:"jobs"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics" toml:"metrics"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging" toml:"logging"`
}

// StorageConfig contains SQLite storage configuration
type StorageConfig struct {
	// Path is the database file; relative paths are resolved against the workspace root.
	Path               string `json:"path" mapstructure:"path" toml:"path"`
	BusyTimeoutMs      int    `json:"busyTimeoutMs" mapstructure:"busyTimeoutMs" toml:"busyTimeoutMs"`
	CompressBodiesOver int    `json:"compressBodiesOver" mapstructure:"compressBodiesOver" toml:"compressBodiesOver"`
}

// CommitConfig contains commit engine defaults
type CommitConfig struct {
	ScoreEpsilon float64 `json:"scoreEpsilon" mapstructure:"scoreEpsilon" toml:"scoreEpsilon"`
	AllOrNothing bool    `json:"allOrNothing" mapstructure:"allOrNothing" toml:"allOrNothing"`
}

// JobsConfig contains the async commit worker pool configuration
type JobsConfig struct {
	Workers            int `json:"workers" mapstructure:"workers" toml:"workers"`
	QueueSize          int `json:"queueSize" mapstructure:"queueSize" toml:"queueSize"`
	RecoveryIntervalMs int `json:"recoveryIntervalMs" mapstructure:"recoveryIntervalMs" toml:"recoveryIntervalMs"`
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" toml:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr" toml:"addr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format" toml:"format"`
	Level  string `json:"level" mapstructure:"level" toml:"level"`
	// Per-subsystem overrides; empty falls back to Level.
	Commit string `json:"commit,omitempty" mapstructure:"commit" toml:"commit,omitempty"`
	Jobs   string `json:"jobs,omitempty" mapstructure:"jobs" toml:"jobs,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Storage: StorageConfig{
			Path:               filepath.Join(DirName, "rtm.db"),
			BusyTimeoutMs:      5000,
			CompressBodiesOver: 4096,
		},
		Commit: CommitConfig{
			ScoreEpsilon: 1e-3,
			AllOrNothing: false,
		},
		Jobs: JobsConfig{
			Workers:            4,
			QueueSize:          100,
			RecoveryIntervalMs: 30000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "localhost:9131",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// setDefaults registers every key with viper so env overrides apply even
// when no config file exists.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("version", cfg.Version)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.busyTimeoutMs", cfg.Storage.BusyTimeoutMs)
	v.SetDefault("storage.compressBodiesOver", cfg.Storage.CompressBodiesOver)
	v.SetDefault("commit.scoreEpsilon", cfg.Commit.ScoreEpsilon)
	v.SetDefault("commit.allOrNothing", cfg.Commit.AllOrNothing)
	v.SetDefault("jobs.workers", cfg.Jobs.Workers)
	v.SetDefault("jobs.queueSize", cfg.Jobs.QueueSize)
	v.SetDefault("jobs.recoveryIntervalMs", cfg.Jobs.RecoveryIntervalMs)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.commit", cfg.Logging.Commit)
	v.SetDefault("logging.jobs", cfg.Logging.Jobs)
}

// LoadConfig loads configuration from <root>/.rtm/config.toml, applying
// RTM_* environment overrides (RTM_STORAGE_PATH, RTM_JOBS_WORKERS, ...).
func LoadConfig(root string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(root, DirName))
	v.SetEnvPrefix("RTM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file; a missing file leaves defaults and env in place
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to <root>/.rtm/config.toml
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.toml"), data, 0644)
}

// DatabasePath resolves the storage path against the workspace root
func (c *Config) DatabasePath(root string) string {
	if filepath.IsAbs(c.Storage.Path) {
		return c.Storage.Path
	}
	return filepath.Join(root, c.Storage.Path)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Storage.Path == "" {
		return &ConfigError{Field: "storage.path", Message: "must not be empty"}
	}
	if c.Storage.BusyTimeoutMs < 0 {
		return &ConfigError{Field: "storage.busyTimeoutMs", Message: "must not be negative"}
	}
	if c.Commit.ScoreEpsilon < 0 || c.Commit.ScoreEpsilon >= 1 {
		return &ConfigError{Field: "commit.scoreEpsilon", Message: "must be in [0, 1)"}
	}
	if c.Jobs.Workers < 1 {
		return &ConfigError{Field: "jobs.workers", Message: "must be at least 1"}
	}
	if c.Jobs.QueueSize < 1 {
		return &ConfigError{Field: "jobs.queueSize", Message: "must be at least 1"}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be human or json"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
