package circuitbreaker

import (
	"errors"
	"time"
)

var (
	errFailureThreshold = errors.New("invalid circuit breaker: failure_threshold must be positive")
	errSuccessThreshold = errors.New("invalid circuit breaker: success_threshold must be positive")
	errHalfOpenProbes   = errors.New("invalid circuit breaker: half_open_probes must be positive")
	errOpenTimeout      = errors.New("invalid circuit breaker: open_timeout must be positive")
)

// Config controls when a breaker opens and how it recovers.
type Config struct {
	Enabled bool `koanf:"enabled" json:"enabled"`
	// FailureThreshold is the number of consecutive provider failures that
	// opens the circuit.
	FailureThreshold int `koanf:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold is the number of successful probes that closes it.
	SuccessThreshold int `koanf:"success_threshold" json:"success_threshold"`
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration `koanf:"open_timeout" json:"open_timeout"`
	// HalfOpenProbes bounds concurrent calls while half-open.
	HalfOpenProbes int `koanf:"half_open_probes" json:"half_open_probes"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Validate checks the thresholds. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.FailureThreshold <= 0:
		return errFailureThreshold
	case c.SuccessThreshold <= 0:
		return errSuccessThreshold
	case c.HalfOpenProbes <= 0:
		return errHalfOpenProbes
	case c.OpenTimeout <= 0:
		return errOpenTimeout
	}
	return nil
}
