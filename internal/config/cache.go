package config

import "time"

// CacheConfig defines settings for the layout response cache. When Enabled
// is false or no Redis client is configured, caching is skipped.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" env:"CACHE_ENABLED" env-default:"true"`
	TTL          time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"30s"`
	Prefix       string        `yaml:"prefix" env:"CACHE_PREFIX" env-default:"cache"`
	MaxBodyBytes int           `yaml:"max_body_bytes" env:"CACHE_MAX_BODY_BYTES" env-default:"1048576"`
}
