package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/loglens/loglens"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrMissingAPIKey is returned by Validate when no credential is configured.
var ErrMissingAPIKey = errors.New("qwen.api_key is not configured")

// Config stores all configuration of the application.
// The values are read by viper from a config file, environment variables or bound flags.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Qwen    QwenConfig    `mapstructure:"qwen"`
	Session SessionConfig `mapstructure:"session"`
	Harness HarnessConfig `mapstructure:"harness"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig stores HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"` // "*" allows any origin
	CORSMaxAge      int           `mapstructure:"cors_max_age"`    // preflight cache, seconds
}

// QwenConfig stores the completion endpoint settings.
type QwenConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	APIURL         string        `mapstructure:"api_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float32       `mapstructure:"temperature"`
	TopP           float32       `mapstructure:"top_p"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // per attempt
	Retry          RetryConfig   `mapstructure:"retry"`
	Prompt         PromptConfig  `mapstructure:"prompt"`
}

// RetryConfig controls the outbound retry loop.
type RetryConfig struct {
	Count int           `mapstructure:"count"` // additional attempts after the first
	Delay time.Duration `mapstructure:"delay"` // fixed delay between attempts
}

// PromptConfig stores the prompt templates. Each template has a single %s placeholder.
type PromptConfig struct {
	First  string `mapstructure:"first"`
	Follow string `mapstructure:"follow"`
	Marker string `mapstructure:"marker"` // required substring of a first-round input
}

// SessionConfig stores conversation memory limits.
type SessionConfig struct {
	MaxRounds     int           `mapstructure:"max_rounds"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// HarnessConfig stores analysis harness settings.
type HarnessConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // memoize first-round completions
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // Refill rate

	// Safety and validation
	MaxInputSize int `mapstructure:"max_input_size"` // in runes, 0 disables the check

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"` // Enable structured logging/tracing
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level name
	Format string `mapstructure:"format"` // "console" or "json"
}

var (
	AppConfig Config

	mu     sync.Mutex
	active *viper.Viper
)

// LoadConfig reads configuration from file, environment variables and the given flag sets.
func LoadConfig(configPath string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. qwen.retry.count becomes LOGLENS_QWEN_RETRY_COUNT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, fs := range flags {
		if fs == nil {
			continue
		}
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment are used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	mu.Lock()
	active = v
	AppConfig = cfg
	mu.Unlock()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", internal.DefaultListenAddr)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "5m") // covers the whole retry budget
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.cors_max_age", 3600)

	v.SetDefault("qwen.api_key", "")
	v.SetDefault("qwen.api_url", internal.DefaultAPIURL)
	v.SetDefault("qwen.model", internal.DefaultModel)
	v.SetDefault("qwen.temperature", 0.2)
	v.SetDefault("qwen.top_p", 0.7)
	v.SetDefault("qwen.connect_timeout", "30s")
	v.SetDefault("qwen.request_timeout", "60s")
	v.SetDefault("qwen.retry.count", 2)
	v.SetDefault("qwen.retry.delay", "1s")
	v.SetDefault("qwen.prompt.first", DefaultFirstPrompt)
	v.SetDefault("qwen.prompt.follow", DefaultFollowPrompt)
	v.SetDefault("qwen.prompt.marker", DefaultFormatMarker)

	v.SetDefault("session.max_rounds", 3)
	v.SetDefault("session.max_sessions", 100)
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.sweep_interval", "1m")

	v.SetDefault("harness.cache_enabled", false)
	v.SetDefault("harness.cache_capacity", 256)
	v.SetDefault("harness.cache_ttl_seconds", 3600) // 1 hour
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.max_input_size", 20000)
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"log-level": "log.level",
	"api-key":   "qwen.api_key",
	"model":     "qwen.model",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate reports configuration the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Qwen.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Qwen.Retry.Count < 0 {
		return fmt.Errorf("qwen.retry.count must be >= 0, got %d", c.Qwen.Retry.Count)
	}
	if c.Session.MaxRounds < 1 {
		return fmt.Errorf("session.max_rounds must be >= 1, got %d", c.Session.MaxRounds)
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("session.max_sessions must be >= 1, got %d", c.Session.MaxSessions)
	}
	if !strings.Contains(c.Qwen.Prompt.First, "%s") || !strings.Contains(c.Qwen.Prompt.Follow, "%s") {
		return errors.New("qwen.prompt templates must contain a %s placeholder")
	}
	return nil
}

// Watch re-decodes the last loaded configuration whenever its file changes.
// It is a no-op when no config file was found. Reloads that fail to decode
// are logged and leave the current configuration in place.
func Watch(logger zerolog.Logger, onChange func(*Config)) {
	mu.Lock()
	v := active
	mu.Unlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(reloadHandler(v, logger, onChange))
	v.WatchConfig()
}

func reloadHandler(v *viper.Viper, logger zerolog.Logger, onChange func(*Config)) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("ignoring undecodable config reload")
			return
		}
		mu.Lock()
		AppConfig = cfg
		mu.Unlock()
		onChange(&cfg)
	}
}
