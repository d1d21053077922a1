// Package config provides service configuration for penf-meetings.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// StoreDriver selects the meeting record store.
type StoreDriver string

const (
	// StoreMemory keeps meetings in process. Development only.
	StoreMemory StoreDriver = "memory"
	// StorePostgres uses the meetings table in PostgreSQL.
	StorePostgres StoreDriver = "postgres"
)

// IsValid checks if the store driver is known.
func (d StoreDriver) IsValid() bool {
	return d == StoreMemory || d == StorePostgres
}

// Default configuration values.
const (
	DefaultAddr               = ":8080"
	DefaultStoreDriver        = StorePostgres
	DefaultTranscriptionModel = "whisper-1"
	DefaultStructuringModel   = "gpt-4o-mini"
	DefaultAITimeout          = 120 * time.Second
	DefaultFetchTimeout       = 60 * time.Second
	DefaultMaxAudioSize       = "200 MB"
	DefaultNotifyTimeout      = 10 * time.Second
	DefaultWriteTimeout       = 10 * time.Minute
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultConfigDir          = ".penf-meetings"
	DefaultConfigFile         = "config.yaml"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// WriteTimeout bounds a whole request, including a pipeline run.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// StoreConfig selects and locates the record store.
type StoreConfig struct {
	Driver StoreDriver

	// DatabaseURL overrides DATABASE_URL and the DB_* variables.
	DatabaseURL string

	// Migrate applies pending migrations on serve.
	Migrate bool
}

// AIConfig holds transcription and structuring service settings.
// The API key is resolved through pkg/secrets.
type AIConfig struct {
	// BaseURL points both clients at an OpenAI-compatible endpoint.
	BaseURL            string
	TranscriptionModel string
	StructuringModel   string
	MaxTokens          int
	Timeout            time.Duration
}

// AudioConfig bounds recording downloads.
type AudioConfig struct {
	FetchTimeout time.Duration

	// MaxSize is a human-readable size such as "200 MB".
	MaxSize string
}

// NotifyConfig holds push gateway settings.
type NotifyConfig struct {
	ExpoURL string
	Timeout time.Duration
}

// EventsConfig controls Redis event publishing. Connection details come from
// REDIS_URL or REDIS_HOST and friends.
type EventsConfig struct {
	Enabled bool
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string
	Format string
}

// ServiceConfig holds the penf-meetings configuration.
type ServiceConfig struct {
	Server  ServerConfig
	Store   StoreConfig
	AI      AIConfig
	Audio   AudioConfig
	Notify  NotifyConfig
	Events  EventsConfig
	Logging LoggingConfig

	// UseKeyring lets secrets fall back to the OS keyring.
	UseKeyring bool

	// Environment is included in all log entries.
	Environment string
}

// DefaultConfig returns a ServiceConfig with default values.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
		},
		AI: AIConfig{
			TranscriptionModel: DefaultTranscriptionModel,
			StructuringModel:   DefaultStructuringModel,
			Timeout:            DefaultAITimeout,
		},
		Audio: AudioConfig{
			FetchTimeout: DefaultFetchTimeout,
			MaxSize:      DefaultMaxAudioSize,
		},
		Notify: NotifyConfig{
			Timeout: DefaultNotifyTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		UseKeyring:  true,
		Environment: "development",
	}
}

// ConfigPath returns the configuration file path.
// Uses $PENF_MEETINGS_CONFIG if set, otherwise ~/.penf-meetings/config.yaml
func ConfigPath() (string, error) {
	if path := os.Getenv("PENF_MEETINGS_CONFIG"); path != "" {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// LoadConfig loads the service configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file ($PENF_MEETINGS_CONFIG or ~/.penf-meetings/config.yaml)
// 3. Environment variables (PENF_MEETINGS_*)
func LoadConfig() (*ServiceConfig, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else if os.Getenv("PENF_MEETINGS_CONFIG") != "" {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile is the on-disk layout. Durations are strings.
type configFile struct {
	Server struct {
		Addr            string `yaml:"addr"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Store struct {
		Driver      StoreDriver `yaml:"driver"`
		DatabaseURL string      `yaml:"database_url"`
		Migrate     *bool       `yaml:"migrate"`
	} `yaml:"store"`
	AI struct {
		BaseURL            string `yaml:"base_url"`
		TranscriptionModel string `yaml:"transcription_model"`
		StructuringModel   string `yaml:"structuring_model"`
		MaxTokens          int    `yaml:"max_tokens"`
		Timeout            string `yaml:"timeout"`
	} `yaml:"ai"`
	Audio struct {
		FetchTimeout string `yaml:"fetch_timeout"`
		MaxSize      string `yaml:"max_size"`
	} `yaml:"audio"`
	Notify struct {
		ExpoURL string `yaml:"expo_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"notify"`
	Events struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"events"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	UseKeyring  *bool  `yaml:"use_keyring"`
	Environment string `yaml:"environment"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *ServiceConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	setString(&cfg.Server.Addr, f.Server.Addr)
	if err := setDuration(&cfg.Server.WriteTimeout, f.Server.WriteTimeout, "server.write_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Server.ShutdownTimeout, f.Server.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
		return err
	}

	if f.Store.Driver != "" {
		cfg.Store.Driver = f.Store.Driver
	}
	setString(&cfg.Store.DatabaseURL, f.Store.DatabaseURL)
	if f.Store.Migrate != nil {
		cfg.Store.Migrate = *f.Store.Migrate
	}

	setString(&cfg.AI.BaseURL, f.AI.BaseURL)
	setString(&cfg.AI.TranscriptionModel, f.AI.TranscriptionModel)
	setString(&cfg.AI.StructuringModel, f.AI.StructuringModel)
	if f.AI.MaxTokens > 0 {
		cfg.AI.MaxTokens = f.AI.MaxTokens
	}
	if err := setDuration(&cfg.AI.Timeout, f.AI.Timeout, "ai.timeout"); err != nil {
		return err
	}

	if err := setDuration(&cfg.Audio.FetchTimeout, f.Audio.FetchTimeout, "audio.fetch_timeout"); err != nil {
		return err
	}
	setString(&cfg.Audio.MaxSize, f.Audio.MaxSize)

	setString(&cfg.Notify.ExpoURL, f.Notify.ExpoURL)
	if err := setDuration(&cfg.Notify.Timeout, f.Notify.Timeout, "notify.timeout"); err != nil {
		return err
	}

	if f.Events.Enabled != nil {
		cfg.Events.Enabled = *f.Events.Enabled
	}

	setString(&cfg.Logging.Level, f.Logging.Level)
	setString(&cfg.Logging.Format, f.Logging.Format)

	if f.UseKeyring != nil {
		cfg.UseKeyring = *f.UseKeyring
	}
	setString(&cfg.Environment, f.Environment)

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
// Malformed durations are errors rather than silently ignored.
func loadFromEnv(cfg *ServiceConfig) error {
	setString(&cfg.Server.Addr, os.Getenv("PENF_MEETINGS_ADDR"))
	if v := os.Getenv("PENF_MEETINGS_STORE"); v != "" {
		cfg.Store.Driver = StoreDriver(v)
	}
	setString(&cfg.Store.DatabaseURL, os.Getenv("PENF_MEETINGS_DATABASE_URL"))
	if v := os.Getenv("PENF_MEETINGS_MIGRATE"); v != "" {
		cfg.Store.Migrate = isTrue(v)
	}

	setString(&cfg.AI.BaseURL, os.Getenv("PENF_MEETINGS_AI_BASE_URL"))
	setString(&cfg.AI.TranscriptionModel, os.Getenv("PENF_MEETINGS_TRANSCRIPTION_MODEL"))
	setString(&cfg.AI.StructuringModel, os.Getenv("PENF_MEETINGS_STRUCTURING_MODEL"))

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"PENF_MEETINGS_WRITE_TIMEOUT", &cfg.Server.WriteTimeout},
		{"PENF_MEETINGS_AI_TIMEOUT", &cfg.AI.Timeout},
		{"PENF_MEETINGS_FETCH_TIMEOUT", &cfg.Audio.FetchTimeout},
		{"PENF_MEETINGS_NOTIFY_TIMEOUT", &cfg.Notify.Timeout},
	}
	for _, d := range durations {
		if err := setDuration(d.target, os.Getenv(d.env), d.env); err != nil {
			return err
		}
	}

	setString(&cfg.Audio.MaxSize, os.Getenv("PENF_MEETINGS_MAX_AUDIO_SIZE"))
	setString(&cfg.Notify.ExpoURL, os.Getenv("PENF_MEETINGS_EXPO_URL"))

	if v := os.Getenv("PENF_MEETINGS_EVENTS_ENABLED"); v != "" {
		cfg.Events.Enabled = isTrue(v)
	}

	setString(&cfg.Logging.Level, os.Getenv("PENF_MEETINGS_LOG_LEVEL"))
	setString(&cfg.Logging.Format, os.Getenv("PENF_MEETINGS_LOG_FORMAT"))
	if isTrue(os.Getenv("PENF_MEETINGS_DEBUG")) {
		cfg.Logging.Level = "debug"
	}

	if v := os.Getenv("PENF_MEETINGS_USE_KEYRING"); v != "" {
		cfg.UseKeyring = isTrue(v)
	}
	setString(&cfg.Environment, os.Getenv("PENF_MEETINGS_ENV"))

	return nil
}

// Validate checks that the configuration is valid.
func (c *ServiceConfig) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !c.Store.Driver.IsValid() {
		return fmt.Errorf("invalid store.driver: %q (must be memory or postgres)", c.Store.Driver)
	}

	timeouts := map[string]time.Duration{
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"ai.timeout":              c.AI.Timeout,
		"audio.fetch_timeout":     c.Audio.FetchTimeout,
		"notify.timeout":          c.Notify.Timeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.AI.TranscriptionModel == "" || c.AI.StructuringModel == "" {
		return fmt.Errorf("ai models are required")
	}
	if _, err := c.MaxAudioBytes(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %q (must be json or text)", c.Logging.Format)
	}

	return nil
}

// MaxAudioBytes parses Audio.MaxSize.
func (c *ServiceConfig) MaxAudioBytes() (uint64, error) {
	n, err := humanize.ParseBytes(c.Audio.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid audio.max_size %q: %w", c.Audio.MaxSize, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("audio.max_size must be positive")
	}
	return n, nil
}

func setString(target *string, v string) {
	if v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*target = d
	return nil
}

func isTrue(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}
