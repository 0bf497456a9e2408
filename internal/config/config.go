// Package config loads the skyline service configuration from an optional
// file and SKYLINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const envPrefix = "SKYLINE"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Lab      LabConfig      `mapstructure:"lab"`
	Risk     RiskConfig     `mapstructure:"risk"`
	AI       AIConfig       `mapstructure:"ai"`
	Events   EventsConfig   `mapstructure:"events"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Env             string        `mapstructure:"env"` // development, production
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`

	// Requests per minute per client, 0 means unlimited.
	AuthRateLimit int `mapstructure:"auth_rate_limit"`
	LabRateLimit  int `mapstructure:"lab_rate_limit"`
	AIRateLimit   int `mapstructure:"ai_rate_limit"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DatabaseConfig selects the sqlite file. ":memory:" keeps everything in process.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig holds dashboard token settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// Clients maps API key to API secret.
	Clients map[string]string `mapstructure:"clients"`
}

// LabConfig tunes the per-client lab sessions.
type LabConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	StageDelay          time.Duration `mapstructure:"stage_delay"`
	MaxMove             float64       `mapstructure:"max_move"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	MaxSessionsPerOwner int           `mapstructure:"max_sessions_per_owner"`
}

// RiskConfig holds the limits applied in the RISK stage.
type RiskConfig struct {
	// MaxNotional rejects trades above it during RISK. Zero disables the check.
	MaxNotional float64 `mapstructure:"max_notional"`
}

// AIConfig holds the AI provider settings.
type AIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	ChatModel         string        `mapstructure:"chat_model"`
	RoadmapModel      string        `mapstructure:"roadmap_model"`
	SpeechModel       string        `mapstructure:"speech_model"`
	Voice             string        `mapstructure:"voice"`
	RealtimeURL       string        `mapstructure:"realtime_url"`
	VideoURL          string        `mapstructure:"video_url"`
	VideoPollInterval time.Duration `mapstructure:"video_poll_interval"`
	VideoTimeout      time.Duration `mapstructure:"video_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	ChatHistory       int           `mapstructure:"chat_history"`
	// Retention is how long idle conversations and finished video jobs are kept
	Retention time.Duration `mapstructure:"retention"`
}

// EventsConfig selects where lab events are published.
type EventsConfig struct {
	Log          bool     `mapstructure:"log"`
	Store        bool     `mapstructure:"store"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// CacheConfig sizes the generated-roadmap cache.
type CacheConfig struct {
	RoadmapTTL  time.Duration `mapstructure:"roadmap_ttl"`
	MaxCost     int64         `mapstructure:"max_cost"`
	NumCounters int64         `mapstructure:"num_counters"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.auth_rate_limit", 10)
	v.SetDefault("server.lab_rate_limit", 600)
	v.SetDefault("server.ai_rate_limit", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", false)
	v.SetDefault("log.file_path", "logs/skyline.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("database.path", "skyline.db")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.clients", map[string]string{})

	v.SetDefault("lab.tick_interval", 3*time.Second)
	v.SetDefault("lab.stage_delay", 1500*time.Millisecond)
	v.SetDefault("lab.max_move", 0.001)
	v.SetDefault("lab.idle_timeout", 30*time.Minute)
	v.SetDefault("lab.max_sessions_per_owner", 5)

	v.SetDefault("risk.max_notional", 0)

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.chat_model", "gpt-4o-mini")
	v.SetDefault("ai.roadmap_model", "gpt-4o-mini")
	v.SetDefault("ai.speech_model", "tts-1")
	v.SetDefault("ai.voice", "alloy")
	v.SetDefault("ai.realtime_url", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview")
	v.SetDefault("ai.video_url", "")
	v.SetDefault("ai.video_poll_interval", 10*time.Second)
	v.SetDefault("ai.video_timeout", 10*time.Minute)
	v.SetDefault("ai.request_timeout", 60*time.Second)
	v.SetDefault("ai.max_attempts", 3)
	v.SetDefault("ai.chat_history", 20)
	v.SetDefault("ai.retention", 24*time.Hour)

	v.SetDefault("events.log", true)
	v.SetDefault("events.store", true)
	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.kafka_topic", "skyline.lab-events")

	v.SetDefault("cache.roadmap_ttl", time.Hour)
	v.SetDefault("cache.max_cost", 1<<20)
	v.SetDefault("cache.num_counters", 10_000)
}

// Load reads configuration. An empty path searches ./skyline.toml and
// /etc/skyline/skyline.toml and falls back to defaults when neither exists;
// an explicit path must exist. SKYLINE_<SECTION>_<KEY> variables override
// both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		v.SetConfigName("skyline")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/skyline")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides honours the provider's conventional variable names and
// fills development-only fallbacks.
func applyEnvOverrides(cfg *Config) {
	if cfg.AI.APIKey == "" {
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.AI.APIKey = v
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if !cfg.IsProduction() && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = uuid.NewString()
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Env != "development" && c.Server.Env != "production" {
		return fmt.Errorf("invalid server env: %s (must be 'development' or 'production')", c.Server.Env)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required in production")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Lab.StageDelay <= 0 {
		return fmt.Errorf("lab.stage_delay must be positive")
	}
	if c.Lab.MaxMove < 0 || c.Lab.MaxMove >= 1 {
		return fmt.Errorf("lab.max_move must be in [0, 1)")
	}
	if c.Risk.MaxNotional < 0 {
		return fmt.Errorf("risk.max_notional must be non-negative")
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("ai.max_attempts must be at least 1")
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return fmt.Errorf("events.kafka_topic is required when brokers are set")
	}
	return nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// AIEnabled reports whether an AI provider key is configured.
func (c *Config) AIEnabled() bool {
	return c.AI.APIKey != ""
}
