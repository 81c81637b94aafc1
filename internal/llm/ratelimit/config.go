package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	errNegativeTokensPerSecond   = errors.New("invalid local rate limit: TokensPerSecond cannot be negative")
	errNegativeBurstSize         = errors.New("invalid local rate limit: BurstSize cannot be negative")
	errBurstWithoutRate          = errors.New("invalid local rate limit: BurstSize must be 0 when TokensPerSecond is 0")
	errNegativeRequestsPerSecond = errors.New("invalid global rate limit: RequestsPerSecond cannot be negative")
	errMissingRedisAddr          = errors.New("invalid global rate limit: redis_addr is required")
)

// Config holds both limiter layers.
type Config struct {
	Local  LocalConfig  `koanf:"local"  json:"local"`
	Global GlobalConfig `koanf:"global" json:"global"`
}

// LocalConfig configures the in-process token bucket. One bucket exists per
// provider, model and operation.
type LocalConfig struct {
	Enabled         bool    `koanf:"enabled"           json:"enabled"`
	TokensPerSecond float64 `koanf:"tokens_per_second" json:"tokens_per_second"`
	BurstSize       int     `koanf:"burst_size"        json:"burst_size"`
}

// GlobalConfig configures the Redis fixed window shared by every process
// of a deployment. RequestsPerSecond of zero disables the check.
type GlobalConfig struct {
	Enabled           bool          `koanf:"enabled"             json:"enabled"`
	RequestsPerSecond int           `koanf:"requests_per_second" json:"requests_per_second"`
	RedisAddr         string        `koanf:"redis_addr"          json:"redis_addr"`
	RedisPassword     string        `koanf:"redis_password"      json:"-"`
	RedisDB           int           `koanf:"redis_db"            json:"redis_db"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"     json:"connect_timeout"`
}

// DefaultConfig returns a conservative local-only setup.
func DefaultConfig() Config {
	return Config{
		Local: LocalConfig{Enabled: true, TokensPerSecond: 5, BurstSize: 10},
		Global: GlobalConfig{
			RequestsPerSecond: 10,
			RedisAddr:         "localhost:6379",
			ConnectTimeout:    2 * time.Second,
		},
	}
}

// Validate checks both layers. Disabled layers are not checked.
func (c Config) Validate() error {
	if c.Local.Enabled {
		if c.Local.TokensPerSecond < 0 {
			return fmt.Errorf("%w (got %f)", errNegativeTokensPerSecond, c.Local.TokensPerSecond)
		}
		if c.Local.BurstSize < 0 {
			return fmt.Errorf("%w (got %d)", errNegativeBurstSize, c.Local.BurstSize)
		}
		if c.Local.TokensPerSecond == 0 && c.Local.BurstSize > 0 {
			return errBurstWithoutRate
		}
	}
	if c.Global.Enabled {
		if c.Global.RequestsPerSecond < 0 {
			return fmt.Errorf("%w (got %d)", errNegativeRequestsPerSecond, c.Global.RequestsPerSecond)
		}
		if c.Global.RedisAddr == "" {
			return errMissingRedisAddr
		}
	}
	return nil
}
