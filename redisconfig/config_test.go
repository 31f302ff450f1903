package redisconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/joomcode/redisguard/redisconfig"
)

func field(err error) string {
	if e := errorx.Cast(err); e != nil {
		if f, ok := e.Property(EKField); ok {
			return f.(string)
		}
	}
	return ""
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:6379", cfg.Addr())

	conn := cfg.ConnOpts()
	assert.Equal(t, 2*time.Second, conn.DialTimeout)
	assert.Equal(t, 2*time.Second, conn.IOTimeout)
	assert.Equal(t, -1, conn.DB)

	po := cfg.PoolOpts()
	assert.Equal(t, 8, po.Pool.MaxTotal)
	assert.False(t, po.Pool.FailFast)
	assert.False(t, po.Pool.FIFO)
	assert.Equal(t, 30*time.Second, po.Pool.EvictionInterval)
	assert.Equal(t, 5*time.Minute, po.MaxIdleTime)
	assert.Equal(t, time.Hour, po.MaxLifetime)

	ro := cfg.ResilienceOpts()
	assert.True(t, ro.CircuitBreakerEnabled)
	assert.Equal(t, 5, ro.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, ro.Breaker.ResetTimeout)
	assert.Equal(t, 3, ro.Breaker.HalfOpenMaxAttempts)
	assert.True(t, ro.RetryEnabled)
	assert.Equal(t, 3, ro.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, ro.Retry.InitialDelay)
	assert.Equal(t, 5*time.Second, ro.Retry.MaxDelay)
	assert.Equal(t, 2.0, ro.Retry.Multiplier)
	assert.True(t, ro.TimeoutEnabled)
	assert.Equal(t, 30*time.Second, ro.Timeout.Timeout)

	nc := cfg.NearCacheOpts()
	assert.Equal(t, 100*time.Millisecond, nc.RetryBackoff)
	assert.Equal(t, 3, nc.ShutdownAttempts)
}

func TestValidateModes(t *testing.T) {
	cfg := Default()
	cfg.Mode = " Sentinel "
	err := cfg.Validate()
	require.True(t, errorx.IsOfType(err, ErrConfig))
	assert.Equal(t, "sentinel.master_name", field(err))

	cfg.Sentinel.MasterName = "mymaster"
	err = cfg.Validate()
	assert.Equal(t, "sentinel.nodes", field(err))

	cfg.Sentinel.Nodes = []string{"s1:26379, s2", "s3:26380"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeSentinel, cfg.Mode)
	assert.Equal(t, []string{"s1:26379", "s2:6379", "s3:26380"}, cfg.Sentinel.Nodes)

	cfg = Default()
	cfg.Mode = ModeCluster
	assert.Equal(t, "cluster.seeds", field(cfg.Validate()))
	cfg.Cluster.Seeds = []string{"n1:7000,n2:7001"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"n1:7000", "n2:7001"}, cfg.Cluster.Seeds)

	cfg = Default()
	cfg.Mode = "ring"
	assert.Equal(t, "mode", field(cfg.Validate()))

	cfg = Default()
	cfg.Host = ""
	assert.Equal(t, "host", field(cfg.Validate()))

	cfg = Default()
	cfg.Port = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPort, cfg.Port)
	cfg.Port = 70000
	assert.Equal(t, "port", field(cfg.Validate()))
}

func TestValidateLimits(t *testing.T) {
	cfg := Default()
	cfg.Pool.MaxTotal = 0
	assert.Equal(t, "pool.max_total", field(cfg.Validate()))

	cfg = Default()
	cfg.Pool.MinIdle = 9
	assert.Equal(t, "pool.min_idle", field(cfg.Validate()))

	cfg = Default()
	cfg.Pool.MaxLowPriority = -1
	assert.Equal(t, "pool", field(cfg.Validate()))

	cfg = Default()
	cfg.Resilience.MaxRetries = -1
	assert.Equal(t, "resilience.max_retries", field(cfg.Validate()))

	cfg = Default()
	cfg.Resilience.RetryMultiplier = 0.5
	assert.Equal(t, "resilience.retry_multiplier", field(cfg.Validate()))
}

func TestParseHostPort(t *testing.T) {
	for in, out := range map[string]string{
		"redis":          "redis:6379",
		" redis:7000 ":   "redis:7000",
		"10.0.0.1:6380":  "10.0.0.1:6380",
		"[::1]:6379":     "[::1]:6379",
		"localhost:1234": "localhost:1234",
	} {
		addr, err := ParseHostPort(in)
		require.NoError(t, err, in)
		assert.Equal(t, out, addr, in)
	}
	for _, in := range []string{"", "host:", ":6379", "host:abc", "host:0", "host:65536"} {
		_, err := ParseHostPort(in)
		assert.True(t, errorx.IsOfType(err, ErrConfig), "%q", in)
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.DatabaseIndex = 3
	cfg.Username = "app"
	cfg.Password = "secret"
	cfg.Sentinel.Password = "sentinel-secret"
	cfg.Pool.BlockWhenExhausted = false
	cfg.Pool.LIFO = false
	cfg.Pool.EvictionIntervalMs = 0
	cfg.Pool.MaxLowPriority = 2
	cfg.Resilience.MaxRetries = 0

	conn := cfg.ConnOpts()
	assert.Equal(t, 3, conn.DB)
	assert.Equal(t, "app", conn.Username)
	assert.Equal(t, "secret", conn.Password)

	sc := cfg.SentinelConnOpts()
	assert.Equal(t, -1, sc.DB)
	assert.Equal(t, "sentinel-secret", sc.Password)
	assert.Empty(t, sc.Username)

	po := cfg.PoolOpts()
	assert.True(t, po.Pool.FailFast)
	assert.True(t, po.Pool.FIFO)
	assert.Less(t, po.Pool.EvictionInterval, time.Duration(0))
	assert.Equal(t, 2, po.Pool.MaxLowPriority)
	assert.Equal(t, 3, po.Conn.DB)

	assert.False(t, cfg.ResilienceOpts().RetryEnabled)
}

func TestLoadViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("mode", "cluster")
	v.Set("cluster.seeds", []string{"a:7000", "b"})
	v.Set("pool.max_total", 16)
	v.Set("resilience.retry_enabled", false)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ModeCluster, cfg.Mode)
	assert.Equal(t, []string{"a:7000", "b:6379"}, cfg.Cluster.Seeds)
	assert.Equal(t, 16, cfg.Pool.MaxTotal)
	assert.Equal(t, 8, cfg.Pool.MaxIdle)
	assert.False(t, cfg.Resilience.RetryEnabled)
	assert.True(t, cfg.Resilience.CircuitBreakerEnabled)
	assert.Equal(t, 5, cfg.Cluster.MaxRedirects)

	v = viper.New()
	v.Set("mode", "cluster")
	_, err = Load(v)
	assert.True(t, errorx.IsOfType(err, ErrConfig))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte(
		"REDISTEST_MODE=sentinel\n"+
			"REDISTEST_SENTINEL_MASTER_NAME=mymaster\n"+
			"REDISTEST_SENTINEL_NODES=s1:26379,s2:26379\n"+
			"REDISTEST_POOL_MAX_TOTAL=4\n"), 0o600))
	t.Setenv("REDISTEST_POOL_MAX_TOTAL", "12")
	t.Setenv("REDISTEST_NEAR_CACHE_ENABLED", "true")
	// unset variables godotenv is going to set, so they are cleaned up after test
	t.Setenv("REDISTEST_MODE", "")
	os.Unsetenv("REDISTEST_MODE")
	t.Setenv("REDISTEST_SENTINEL_MASTER_NAME", "")
	os.Unsetenv("REDISTEST_SENTINEL_MASTER_NAME")
	t.Setenv("REDISTEST_SENTINEL_NODES", "")
	os.Unsetenv("REDISTEST_SENTINEL_NODES")

	cfg, err := LoadEnv("redistest", env, filepath.Join(dir, ".env.local"))
	require.NoError(t, err)
	assert.Equal(t, ModeSentinel, cfg.Mode)
	assert.Equal(t, "mymaster", cfg.Sentinel.MasterName)
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, cfg.Sentinel.Nodes)
	assert.Equal(t, 12, cfg.Pool.MaxTotal, "environment wins over .env")
	assert.True(t, cfg.NearCache.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: cache.local
port: 6380
database_index: 2
pool:
  max_total: 32
  max_low_priority: 4
resilience:
  max_retries: 5
`), 0o600))

	cfg, err := LoadFile("redisfiletest", path)
	require.NoError(t, err)
	assert.Equal(t, "cache.local:6380", cfg.Addr())
	assert.Equal(t, 2, cfg.DatabaseIndex)
	assert.Equal(t, 32, cfg.Pool.MaxTotal)
	assert.Equal(t, 4, cfg.Pool.MaxLowPriority)
	assert.Equal(t, 5, cfg.Resilience.MaxRetries)
	assert.Equal(t, 2000, cfg.SocketTimeoutMs)

	_, err = LoadFile("redisfiletest", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errorx.IsOfType(err, ErrConfig))
}
