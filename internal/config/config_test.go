package config

import (
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(nil, flags.None)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ":8080", cfg.Server.Address)
	require.Equal(t, 3*time.Second, cfg.Query.Timeout)
	require.Equal(t, []string{"samp", "samp-info", "a2s"}, cfg.Query.Backends)
	require.Equal(t, 10*time.Second, cfg.Cache.TTL)
	require.Equal(t, 1000, cfg.Cache.MaxEntries)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, 5, cfg.RateLimit.MaxRequests)
	require.Equal(t, 5*time.Minute, cfg.RateLimit.BlockDuration)
	require.Equal(t, 20, cfg.RateLimit.AbuseThreshold)
	require.False(t, cfg.RateLimit.Queue)
	require.Equal(t, 100, cfg.RateLimit.QueueSize)
	require.Equal(t, 30*time.Second, cfg.RateLimit.QueueTimeout)
	require.Equal(t, ":memory:", cfg.Storage.Path)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("SAMPINFO_QUERY_TIMEOUT", "1500ms")
	t.Setenv("SAMPINFO_CACHE_TTL", "15s")
	t.Setenv("SAMPINFO_CACHE_MAX_ENTRIES", "50")
	t.Setenv("SAMPINFO_RATE_LIMIT_MAX_REQUESTS", "10")
	t.Setenv("SAMPINFO_RATE_LIMIT_QUEUE", "true")
	t.Setenv("SAMPINFO_RATE_LIMIT_WHITELIST", "10.0.0.1,10.0.0.2")
	t.Setenv("SAMPINFO_QUERY_BACKENDS", "samp,a2s")

	cfg, err := Load(nil, flags.None)
	require.NoError(t, err)

	require.Equal(t, 1500*time.Millisecond, cfg.Query.Timeout)
	require.Equal(t, 15*time.Second, cfg.Cache.TTL)
	require.Equal(t, 50, cfg.Cache.MaxEntries)
	require.Equal(t, 10, cfg.RateLimit.MaxRequests)
	require.True(t, cfg.RateLimit.Queue)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.RateLimit.Whitelist)
	require.Equal(t, []string{"samp", "a2s"}, cfg.Query.Backends)
}

func TestFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--rate-limit-window", "30s",
		"--cache-warmup", "1.2.3.4:7777",
		"--query-backend", "samp-info",
	}, flags.None)
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	require.Equal(t, []string{"1.2.3.4:7777"}, cfg.Cache.Warmup)
	require.Equal(t, []string{"samp-info"}, cfg.Query.Backends)
}

func TestValidate(t *testing.T) {
	cfg, err := Load([]string{
		"--rate-limit-abuse-threshold", "3",
		"--query-backend", "openmp-api",
	}, flags.None)
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorContains(t, err, "abuse-threshold")
	require.ErrorContains(t, err, "openmp-url")
}
