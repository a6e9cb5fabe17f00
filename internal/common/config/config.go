// Package config provides configuration management for Playdesk.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Playdesk.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Auth        AuthConfig        `mapstructure:"auth"`
	AI          AIConfig          `mapstructure:"ai"`
	Translation TranslationConfig `mapstructure:"translation"`
	RateLimit   RateLimitConfig   `mapstructure:"rateLimit"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Driver is "sqlite3" (default, Path is used) or "pgx" (URL is used).
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AuthConfig holds authentication configuration.
// AdminUsername/AdminPassword seed the bootstrap admin account on first start;
// an empty password disables seeding.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
	AdminUsername string `mapstructure:"adminUsername"`
	AdminPassword string `mapstructure:"adminPassword"`
}

// AIConfig holds the conversational-AI provider configuration.
type AIConfig struct {
	BaseURL string `mapstructure:"baseUrl"`
	// APIKeyCiphertext is the default API key, encrypted with EncryptionKey.
	// Per-game credentials stored on the Game row take precedence.
	APIKeyCiphertext string `mapstructure:"apiKeyCiphertext"`
	// EncryptionKey is the hex-encoded AES-256 key for credential ciphertexts.
	EncryptionKey string `mapstructure:"encryptionKey"`
	Timeout       int    `mapstructure:"timeout"` // in seconds
}

// TranslationConfig holds the translation provider configuration.
type TranslationConfig struct {
	BaseURL string `mapstructure:"baseUrl"`
	APIKey  string `mapstructure:"apiKey"`
	Timeout int    `mapstructure:"timeout"` // in seconds
}

// RateLimitConfig holds token-bucket rate limit settings.
type RateLimitConfig struct {
	PlayerPerMinute int `mapstructure:"playerPerMinute"`
	PlayerBurst     int `mapstructure:"playerBurst"`
	AgentPerMinute  int `mapstructure:"agentPerMinute"`
	AgentBurst      int `mapstructure:"agentBurst"`
	AIPerMinute     int `mapstructure:"aiPerMinute"`
	AIBurst         int `mapstructure:"aiBurst"`
	NoticeCooldown  int `mapstructure:"noticeCooldown"` // in milliseconds
	IdleSweep       int `mapstructure:"idleSweep"`      // in seconds
}

// RealtimeConfig holds WebSocket gateway settings.
type RealtimeConfig struct {
	HeartbeatInterval int `mapstructure:"heartbeatInterval"` // client ping cadence, seconds
	IdleTimeout       int `mapstructure:"idleTimeout"`       // close after no frames, seconds
	PresenceGrace     int `mapstructure:"presenceGrace"`     // agent offline grace, seconds
}

// QueueConfig holds queue scheduler settings.
type QueueConfig struct {
	RescoreInterval     int  `mapstructure:"rescoreInterval"`     // in seconds
	DefaultServiceTime  int  `mapstructure:"defaultServiceTime"`  // ETA fallback, minutes
	AutoAssignOnEnqueue bool `mapstructure:"autoAssignOnEnqueue"` // push model on transfer
}

// MetricsConfig holds metrics exposition settings.
type MetricsConfig struct {
	AuthKey string `mapstructure:"authKey"` // x-metrics-key header for non-private callers
}

// CORSConfig holds the CORS allow-list.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// TimeoutDuration returns the AI request deadline as a time.Duration.
func (a *AIConfig) TimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// TimeoutDuration returns the translation request deadline as a time.Duration.
func (t *TranslationConfig) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// NoticeCooldownDuration returns the rate-limit notice cooldown as a time.Duration.
func (r *RateLimitConfig) NoticeCooldownDuration() time.Duration {
	return time.Duration(r.NoticeCooldown) * time.Millisecond
}

// IdleSweepDuration returns the limiter idle sweep window as a time.Duration.
func (r *RateLimitConfig) IdleSweepDuration() time.Duration {
	return time.Duration(r.IdleSweep) * time.Second
}

// HeartbeatIntervalDuration returns the heartbeat interval as a time.Duration.
func (r *RealtimeConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(r.HeartbeatInterval) * time.Second
}

// IdleTimeoutDuration returns the connection idle timeout as a time.Duration.
func (r *RealtimeConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(r.IdleTimeout) * time.Second
}

// PresenceGraceDuration returns the presence grace window as a time.Duration.
func (r *RealtimeConfig) PresenceGraceDuration() time.Duration {
	return time.Duration(r.PresenceGrace) * time.Second
}

// RescoreIntervalDuration returns the rescore tick as a time.Duration.
func (q *QueueConfig) RescoreIntervalDuration() time.Duration {
	return time.Duration(q.RescoreInterval) * time.Second
}

// DefaultServiceTimeDuration returns the ETA fallback as a time.Duration.
func (q *QueueConfig) DefaultServiceTimeDuration() time.Duration {
	return time.Duration(q.DefaultServiceTime) * time.Minute
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PLAYDESK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "playdesk.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "playdesk")
	v.SetDefault("nats.maxReconnects", 10)

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 86400) // 24 hours
	v.SetDefault("auth.adminUsername", "admin")
	v.SetDefault("auth.adminPassword", "")

	// AI provider defaults
	v.SetDefault("ai.baseUrl", "")
	v.SetDefault("ai.apiKeyCiphertext", "")
	v.SetDefault("ai.encryptionKey", "")
	v.SetDefault("ai.timeout", 30)

	// Translation provider defaults
	v.SetDefault("translation.baseUrl", "")
	v.SetDefault("translation.apiKey", "")
	v.SetDefault("translation.timeout", 15)

	// Rate limit defaults
	v.SetDefault("rateLimit.playerPerMinute", 200)
	v.SetDefault("rateLimit.playerBurst", 20)
	v.SetDefault("rateLimit.agentPerMinute", 600)
	v.SetDefault("rateLimit.agentBurst", 60)
	v.SetDefault("rateLimit.aiPerMinute", 60)
	v.SetDefault("rateLimit.aiBurst", 10)
	v.SetDefault("rateLimit.noticeCooldown", 1000)
	v.SetDefault("rateLimit.idleSweep", 600)

	// Realtime defaults
	v.SetDefault("realtime.heartbeatInterval", 20)
	v.SetDefault("realtime.idleTimeout", 60)
	v.SetDefault("realtime.presenceGrace", 30)

	// Queue defaults
	v.SetDefault("queue.rescoreInterval", 10)
	v.SetDefault("queue.defaultServiceTime", 3)
	v.SetDefault("queue.autoAssignOnEnqueue", false)

	// Metrics defaults
	v.SetDefault("metrics.authKey", "")

	// CORS defaults
	v.SetDefault("cors.allowedOrigins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix PLAYDESK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/playdesk/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("PLAYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("database.url", "PLAYDESK_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("auth.jwtSecret", "PLAYDESK_AUTH_JWT_SECRET")
	_ = v.BindEnv("auth.adminUsername", "PLAYDESK_AUTH_ADMIN_USERNAME")
	_ = v.BindEnv("auth.adminPassword", "PLAYDESK_AUTH_ADMIN_PASSWORD")
	_ = v.BindEnv("ai.baseUrl", "PLAYDESK_AI_BASE_URL")
	_ = v.BindEnv("ai.apiKeyCiphertext", "PLAYDESK_AI_API_KEY_CIPHERTEXT")
	_ = v.BindEnv("ai.encryptionKey", "PLAYDESK_AI_ENCRYPTION_KEY")
	_ = v.BindEnv("translation.baseUrl", "PLAYDESK_TRANSLATION_BASE_URL")
	_ = v.BindEnv("translation.apiKey", "PLAYDESK_TRANSLATION_API_KEY")
	_ = v.BindEnv("metrics.authKey", "PLAYDESK_METRICS_AUTH_KEY")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/playdesk/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
