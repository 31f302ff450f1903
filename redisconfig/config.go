// Package redisconfig describes client configuration supplied by host application,
// its defaults and validation, and loads it with viper from files, .env files and environment.
package redisconfig

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joomcode/redisguard/nearcache"
	"github.com/joomcode/redisguard/redisconn"
	"github.com/joomcode/redisguard/redispool"
	"github.com/joomcode/redisguard/redisstrategy"
	"github.com/joomcode/redisguard/resilience"
)

// Connection modes.
const (
	ModeStandalone = "standalone"
	ModeSentinel   = "sentinel"
	ModeCluster    = "cluster"
)

// DefaultPort is used for addresses without port.
const DefaultPort = 6379

// Config is a client configuration. Durations are in milliseconds.
type Config struct {
	Mode string `mapstructure:"mode"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"use_tls"`

	SocketTimeoutMs int `mapstructure:"socket_timeout_ms"`
	IdleTimeoutMs   int `mapstructure:"idle_timeout_ms"`
	MaxLifetimeMs   int `mapstructure:"max_lifetime_ms"`
	// DatabaseIndex is selected if positive.
	DatabaseIndex int `mapstructure:"database_index"`

	Pool       PoolConfig       `mapstructure:"pool"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Sentinel   SentinelConfig   `mapstructure:"sentinel"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	NearCache  NearCacheConfig  `mapstructure:"near_cache"`
}

// PoolConfig configures connection pools.
type PoolConfig struct {
	MaxTotal           int  `mapstructure:"max_total"`
	MaxIdle            int  `mapstructure:"max_idle"`
	MinIdle            int  `mapstructure:"min_idle"`
	MaxLowPriority     int  `mapstructure:"max_low_priority"`
	BlockWhenExhausted bool `mapstructure:"block_when_exhausted"`
	MaxWaitMs          int  `mapstructure:"max_wait_ms"`
	// Fairness is always honoured: waiters are served in order of arrival.
	Fairness           bool `mapstructure:"fairness"`
	LIFO               bool `mapstructure:"lifo"`
	TestOnBorrow       bool `mapstructure:"test_on_borrow"`
	EvictionIntervalMs int  `mapstructure:"eviction_interval_ms"`
}

// ResilienceConfig configures circuit breaker, retries and operation timeout.
type ResilienceConfig struct {
	CircuitBreakerEnabled          bool    `mapstructure:"circuit_breaker_enabled"`
	CircuitBreakerFailureThreshold int     `mapstructure:"circuit_breaker_failure_threshold"`
	CircuitBreakerResetMs          int     `mapstructure:"circuit_breaker_reset_ms"`
	CircuitBreakerHalfOpenAttempts int     `mapstructure:"circuit_breaker_half_open_attempts"`
	RetryEnabled                   bool    `mapstructure:"retry_enabled"`
	MaxRetries                     int     `mapstructure:"max_retries"`
	RetryInitialDelayMs            int     `mapstructure:"retry_initial_delay_ms"`
	RetryMaxDelayMs                int     `mapstructure:"retry_max_delay_ms"`
	RetryMultiplier                float64 `mapstructure:"retry_multiplier"`
	TimeoutEnabled                 bool    `mapstructure:"timeout_enabled"`
	OperationTimeoutMs             int     `mapstructure:"operation_timeout_ms"`
}

// SentinelConfig configures sentinel mode.
type SentinelConfig struct {
	MasterName string   `mapstructure:"master_name"`
	Nodes      []string `mapstructure:"nodes"`
	// Password for sentinel nodes themselves.
	Password string `mapstructure:"password"`
}

// ClusterConfig configures cluster mode.
type ClusterConfig struct {
	Seeds           []string `mapstructure:"seeds"`
	FollowRedirects bool     `mapstructure:"follow_redirects"`
	MaxRedirects    int      `mapstructure:"max_redirects"`
}

// NearCacheConfig configures near-cache write buffer.
type NearCacheConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	RetryBackoffMs     int  `mapstructure:"retry_backoff_ms"`
	IdleWakeIntervalMs int  `mapstructure:"idle_wake_interval_ms"`
	ShutdownAttempts   int  `mapstructure:"shutdown_attempts"`
}

// Default returns configuration with default values.
func Default() Config {
	return Config{
		Mode:            ModeStandalone,
		Host:            "localhost",
		Port:            DefaultPort,
		SocketTimeoutMs: 2000,
		IdleTimeoutMs:   300000,
		MaxLifetimeMs:   3600000,
		DatabaseIndex:   -1,
		Pool: PoolConfig{
			MaxTotal:           8,
			MaxIdle:            8,
			BlockWhenExhausted: true,
			Fairness:           true,
			LIFO:               true,
			EvictionIntervalMs: 30000,
		},
		Resilience: ResilienceConfig{
			CircuitBreakerEnabled:          true,
			CircuitBreakerFailureThreshold: 5,
			CircuitBreakerResetMs:          30000,
			CircuitBreakerHalfOpenAttempts: 3,
			RetryEnabled:                   true,
			MaxRetries:                     3,
			RetryInitialDelayMs:            100,
			RetryMaxDelayMs:                5000,
			RetryMultiplier:                2.0,
			TimeoutEnabled:                 true,
			OperationTimeoutMs:             30000,
		},
		Cluster: ClusterConfig{
			FollowRedirects: true,
			MaxRedirects:    5,
		},
		NearCache: NearCacheConfig{
			RetryBackoffMs:     100,
			IdleWakeIntervalMs: 100,
			ShutdownAttempts:   3,
		},
	}
}

// Validate checks mode and mode specific settings, and normalizes address lists.
func (c *Config) Validate() error {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeStandalone
	}
	switch c.Mode {
	case ModeStandalone:
		if c.Host == "" {
			return fieldErr("host", "host is required in standalone mode")
		}
		if c.Port == 0 {
			c.Port = DefaultPort
		}
		if c.Port < 0 || c.Port > 65535 {
			return fieldErr("port", "port %d is out of range", c.Port)
		}
	case ModeSentinel:
		if c.Sentinel.MasterName == "" {
			return fieldErr("sentinel.master_name", "master name is required in sentinel mode")
		}
		nodes, err := ParseHostPorts("sentinel.nodes", c.Sentinel.Nodes)
		if err != nil {
			return err
		}
		c.Sentinel.Nodes = nodes
	case ModeCluster:
		seeds, err := ParseHostPorts("cluster.seeds", c.Cluster.Seeds)
		if err != nil {
			return err
		}
		c.Cluster.Seeds = seeds
	default:
		return fieldErr("mode", "unknown mode %q", c.Mode)
	}
	if c.Pool.MaxTotal <= 0 {
		return fieldErr("pool.max_total", "max total must be positive")
	}
	if c.Pool.MinIdle < 0 || c.Pool.MaxIdle < 0 || c.Pool.MaxLowPriority < 0 {
		return fieldErr("pool", "idle and low priority limits must not be negative")
	}
	if c.Pool.MaxIdle > 0 && c.Pool.MinIdle > c.Pool.MaxIdle {
		return fieldErr("pool.min_idle", "min idle %d exceeds max idle %d", c.Pool.MinIdle, c.Pool.MaxIdle)
	}
	if c.Resilience.MaxRetries < 0 {
		return fieldErr("resilience.max_retries", "max retries must not be negative")
	}
	if c.Resilience.RetryMultiplier != 0 && c.Resilience.RetryMultiplier < 1 {
		return fieldErr("resilience.retry_multiplier", "retry multiplier must be at least 1")
	}
	return nil
}

// ParseHostPorts parses list of host:port addresses. Elements could be comma separated lists.
// Port defaults to 6379.
func ParseHostPorts(field string, list []string) ([]string, error) {
	var res []string
	for _, item := range list {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			addr, err := ParseHostPort(part)
			if err != nil {
				return nil, ErrConfig.Wrap(err, "invalid address in %s", field).WithProperty(EKField, field)
			}
			res = append(res, addr)
		}
	}
	if len(res) == 0 {
		return nil, fieldErr(field, "at least one address is required")
	}
	return res, nil
}

// ParseHostPort normalizes "host" or "host:port" into "host:port".
func ParseHostPort(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		if s == "" {
			return "", ErrConfig.New("empty address")
		}
		return net.JoinHostPort(s, strconv.Itoa(DefaultPort)), nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", ErrConfig.Wrap(err, "invalid address %q", s)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 || host == "" {
		return "", ErrConfig.New("invalid address %q", s)
	}
	return net.JoinHostPort(host, port), nil
}

// Addr returns standalone address.
func (c *Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ConnOpts returns options of pooled connections.
func (c *Config) ConnOpts() redisconn.Opts {
	return redisconn.Opts{
		DialTimeout: ms(c.SocketTimeoutMs),
		IOTimeout:   ms(c.SocketTimeoutMs),
		DB:          c.DatabaseIndex,
		Username:    c.Username,
		Password:    c.Password,
		TLSEnabled:  c.UseTLS,
	}
}

// SentinelConnOpts returns options of connections to sentinel nodes.
func (c *Config) SentinelConnOpts() redisconn.Opts {
	return redisconn.Opts{
		DialTimeout: ms(c.SocketTimeoutMs),
		IOTimeout:   ms(c.SocketTimeoutMs),
		DB:          -1,
		Password:    c.Sentinel.Password,
		TLSEnabled:  c.UseTLS,
	}
}

// PoolOpts returns options strategies build pools with.
func (c *Config) PoolOpts() redisstrategy.PoolOpts {
	eviction := ms(c.Pool.EvictionIntervalMs)
	if c.Pool.EvictionIntervalMs <= 0 {
		eviction = -1
	}
	return redisstrategy.PoolOpts{
		Conn:        c.ConnOpts(),
		MaxLifetime: ms(c.MaxLifetimeMs),
		MaxIdleTime: ms(c.IdleTimeoutMs),
		Pool: redispool.Opts{
			MaxTotal:         c.Pool.MaxTotal,
			MaxIdle:          c.Pool.MaxIdle,
			MinIdle:          c.Pool.MinIdle,
			MaxLowPriority:   c.Pool.MaxLowPriority,
			FailFast:         !c.Pool.BlockWhenExhausted,
			MaxWait:          ms(c.Pool.MaxWaitMs),
			FIFO:             !c.Pool.LIFO,
			TestOnBorrow:     c.Pool.TestOnBorrow,
			EvictionInterval: eviction,
			MinEvictableIdle: ms(c.IdleTimeoutMs),
		},
	}
}

// ResilienceOpts returns options of resilient operation.
func (c *Config) ResilienceOpts() resilience.Opts {
	r := c.Resilience
	return resilience.Opts{
		CircuitBreakerEnabled: r.CircuitBreakerEnabled,
		Breaker: resilience.BreakerOpts{
			FailureThreshold:    r.CircuitBreakerFailureThreshold,
			ResetTimeout:        ms(r.CircuitBreakerResetMs),
			HalfOpenMaxAttempts: r.CircuitBreakerHalfOpenAttempts,
		},
		// zero retries means single attempt
		RetryEnabled: r.RetryEnabled && r.MaxRetries > 0,
		Retry: resilience.RetryOpts{
			MaxRetries:   r.MaxRetries,
			InitialDelay: ms(r.RetryInitialDelayMs),
			MaxDelay:     ms(r.RetryMaxDelayMs),
			Multiplier:   r.RetryMultiplier,
		},
		TimeoutEnabled: r.TimeoutEnabled,
		Timeout: resilience.TimeoutOpts{
			Timeout: ms(r.OperationTimeoutMs),
		},
	}
}

// NearCacheOpts returns options of near-cache write buffer.
func (c *Config) NearCacheOpts() nearcache.Opts {
	return nearcache.Opts{
		RetryBackoff:     ms(c.NearCache.RetryBackoffMs),
		IdleWakeInterval: ms(c.NearCache.IdleWakeIntervalMs),
		ShutdownAttempts: c.NearCache.ShutdownAttempts,
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func fieldErr(field, format string, args ...interface{}) error {
	return ErrConfig.New(format, args...).WithProperty(EKField, field)
}
