// Package config defines the gateway's configuration shape and its
// defaults->file->env loading order.
package config

import (
	"fmt"
	"time"
)

// Config is the gateway process's full configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Breaker BreakerConfig `koanf:"breaker"`
	Reflect ReflectConfig `koanf:"reflect"`
}

// HTTPConfig configures the gateway's own external-facing HTTP server.
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig configures the zap/lumberjack logger.
type LogConfig struct {
	Level      string `koanf:"level"`
	Output     string `koanf:"output"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus exposition endpoint. Enabled
// decides whether it is mounted; Path is not read, and the endpoint is
// always served at /metrics.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// BreakerConfig holds the default circuit breaker tunables applied to every
// newly registered service.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	RecoveryTimeout  time.Duration `koanf:"recovery_timeout"`
	HalfOpenMaxCalls uint32        `koanf:"half_open_max_calls"`
}

// ReflectConfig holds the default descriptor refresh interval applied to
// every new client pool handle.
type ReflectConfig struct {
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// Validate checks invariants that defaults, file values, and env overrides
// must all still satisfy.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("config: http.port must be positive")
	}
	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("config: breaker.failure_threshold must be positive")
	}
	if c.Breaker.HalfOpenMaxCalls == 0 {
		return fmt.Errorf("config: breaker.half_open_max_calls must be positive")
	}
	return nil
}
