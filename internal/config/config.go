// Package config loads application configuration from an optional YAML file,
// a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Environment variables win
// over the YAML file; both fall back to the env-default tags.
type Config struct {
	Env      string `yaml:"env" env:"APP_ENV" env-default:"dev"`
	Port     string `yaml:"port" env:"APP_PORT" env-default:"8080"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// JWTSecret signs anonymous session tokens.
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"dev-secret-change-me"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"12h"`

	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Hold      HoldConfig      `yaml:"hold"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
}

// DBConfig selects the durable store. Driver is "mysql" or "sqlite".
type DBConfig struct {
	Driver     string `yaml:"driver" env:"DB_DRIVER" env-default:"mysql"`
	User       string `yaml:"user" env:"DB_USER" env-default:"root"`
	Pass       string `yaml:"pass" env:"DB_PASS"`
	Host       string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port       string `yaml:"port" env:"DB_PORT" env-default:"3306"`
	Name       string `yaml:"name" env:"DB_NAME" env-default:"cinema"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"cinema.db"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
}

// QueueConfig points at the RabbitMQ broker used for booking notifications.
// An empty URL disables publishing.
type QueueConfig struct {
	URL             string `yaml:"url" env:"RABBITMQ_URL"`
	ConsumerEnabled bool   `yaml:"consumer_enabled" env:"BOOKING_CONSUMER_ENABLED" env-default:"false"`
	LogDir          string `yaml:"log_dir" env:"BOOKING_LOG_DIR" env-default:"logs"`
}

// HoldConfig controls seat hold lifetime and stream keepalives.
type HoldConfig struct {
	TTL               time.Duration `yaml:"ttl" env:"HOLD_TTL" env-default:"2m"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" env-default:"20s"`
	// SubscriberBuffer is the number of events queued per stream before the
	// subscriber is considered lagging and dropped.
	SubscriberBuffer int `yaml:"subscriber_buffer" env:"STREAM_BUFFER" env-default:"64"`
}

// Load reads .env (when present), then the YAML file at path (when non-empty),
// then the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.RateLimit.normalize()
	if cfg.Hold.TTL <= 0 {
		return nil, fmt.Errorf("HOLD_TTL must be positive, got %s", cfg.Hold.TTL)
	}
	if cfg.Hold.HeartbeatInterval <= 0 {
		cfg.Hold.HeartbeatInterval = 20 * time.Second
	}
	if cfg.Hold.SubscriberBuffer < 1 {
		cfg.Hold.SubscriberBuffer = 1
	}
	switch cfg.DB.Driver {
	case "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	return cfg, nil
}
