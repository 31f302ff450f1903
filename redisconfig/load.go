package redisconfig

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix is a prefix of environment variables: REDISGUARD_POOL_MAX_TOTAL and so on.
const DefaultEnvPrefix = "redisguard"

// SetDefaults registers every key with its default value.
// Viper sees environment variables only for known keys, so it is required for AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	d := Default()
	set := map[string]interface{}{
		"mode":              d.Mode,
		"host":              d.Host,
		"port":              d.Port,
		"username":          d.Username,
		"password":          d.Password,
		"use_tls":           d.UseTLS,
		"socket_timeout_ms": d.SocketTimeoutMs,
		"idle_timeout_ms":   d.IdleTimeoutMs,
		"max_lifetime_ms":   d.MaxLifetimeMs,
		"database_index":    d.DatabaseIndex,

		"pool.max_total":            d.Pool.MaxTotal,
		"pool.max_idle":             d.Pool.MaxIdle,
		"pool.min_idle":             d.Pool.MinIdle,
		"pool.max_low_priority":     d.Pool.MaxLowPriority,
		"pool.block_when_exhausted": d.Pool.BlockWhenExhausted,
		"pool.max_wait_ms":          d.Pool.MaxWaitMs,
		"pool.fairness":             d.Pool.Fairness,
		"pool.lifo":                 d.Pool.LIFO,
		"pool.test_on_borrow":       d.Pool.TestOnBorrow,
		"pool.eviction_interval_ms": d.Pool.EvictionIntervalMs,

		"resilience.circuit_breaker_enabled":            d.Resilience.CircuitBreakerEnabled,
		"resilience.circuit_breaker_failure_threshold":  d.Resilience.CircuitBreakerFailureThreshold,
		"resilience.circuit_breaker_reset_ms":           d.Resilience.CircuitBreakerResetMs,
		"resilience.circuit_breaker_half_open_attempts": d.Resilience.CircuitBreakerHalfOpenAttempts,
		"resilience.retry_enabled":                      d.Resilience.RetryEnabled,
		"resilience.max_retries":                        d.Resilience.MaxRetries,
		"resilience.retry_initial_delay_ms":             d.Resilience.RetryInitialDelayMs,
		"resilience.retry_max_delay_ms":                 d.Resilience.RetryMaxDelayMs,
		"resilience.retry_multiplier":                   d.Resilience.RetryMultiplier,
		"resilience.timeout_enabled":                    d.Resilience.TimeoutEnabled,
		"resilience.operation_timeout_ms":               d.Resilience.OperationTimeoutMs,

		"sentinel.master_name": d.Sentinel.MasterName,
		"sentinel.nodes":       []string{},
		"sentinel.password":    d.Sentinel.Password,

		"cluster.seeds":            []string{},
		"cluster.follow_redirects": d.Cluster.FollowRedirects,
		"cluster.max_redirects":    d.Cluster.MaxRedirects,

		"near_cache.enabled":               d.NearCache.Enabled,
		"near_cache.retry_backoff_ms":      d.NearCache.RetryBackoffMs,
		"near_cache.idle_wake_interval_ms": d.NearCache.IdleWakeIntervalMs,
		"near_cache.shutdown_attempts":     d.NearCache.ShutdownAttempts,
	}
	for k, val := range set {
		v.SetDefault(k, val)
	}
}

// Load unmarshals and validates configuration from viper.
// Keys not set in v keep their defaults.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, ErrConfig.Wrap(err, "could not decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewViper creates viper reading environment variables with prefix.
// Nested keys are mapped with underscore: pool.max_total is PREFIX_POOL_MAX_TOTAL.
func NewViper(prefix string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if prefix != "" {
		v.SetEnvPrefix(prefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotenv loads .env files into environment. Missing files are skipped.
// Variables already present in environment are not overridden.
func LoadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ErrConfig.Wrap(err, "could not load %s", f)
		}
	}
	return nil
}

// ReadFile reads configuration file of any format viper supports into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return ErrConfig.Wrap(err, "could not read %s", path)
	}
	return nil
}

// LoadEnv loads .env files into environment, and then reads
// configuration from environment variables with prefix.
func LoadEnv(prefix string, dotenvFiles ...string) (Config, error) {
	if err := LoadDotenv(dotenvFiles...); err != nil {
		return Config{}, err
	}
	return Load(NewViper(prefix))
}

// LoadFile reads configuration file with environment overrides.
func LoadFile(prefix, path string) (Config, error) {
	v := NewViper(prefix)
	if err := ReadFile(v, path); err != nil {
		return Config{}, err
	}
	return Load(v)
}
