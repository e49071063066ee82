package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/arrivals"
	"tidbyt.dev/arrivals/storage"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "arrivals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func clearEnv(t *testing.T) {
	for _, env := range []string{EnvAPIKey, EnvAddr, EnvStaticURL, EnvTimezone, EnvLogLevel} {
		t.Setenv(env, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, 120, cfg.Server.RateLimit)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, arrivals.DefaultStaticURL, cfg.Static.URL)
	assert.Equal(t, 45*time.Second, cfg.Static.Timeout)
	assert.Equal(t, "memory", cfg.Static.Backend)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "", cfg.Realtime.APIKey)
	assert.Equal(t, arrivals.DefaultFeedURLs(), cfg.Realtime.Feeds)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
server:
  addr: 127.0.0.1:8080
  rate_limit: 0
timezone: America/Chicago
static:
  url: http://example.com/static.zip
  timeout: 2m
  backend: sqlite
  headers:
    Authorization: Bearer abc
realtime:
  api_key: from-file
  feed_cache_ttl: 0s
  feeds:
    X: http://example.com/x
cache:
  ttl: 5s
log:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, 0, cfg.Server.RateLimit)
	assert.Equal(t, time.Minute, cfg.Server.RateWindow)
	assert.Equal(t, "America/Chicago", cfg.Timezone)
	assert.Equal(t, "http://example.com/static.zip", cfg.Static.URL)
	assert.Equal(t, 2*time.Minute, cfg.Static.Timeout)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, cfg.Static.Headers)
	assert.Equal(t, "from-file", cfg.Realtime.APIKey)
	assert.Equal(t, time.Duration(0), cfg.Realtime.FeedCacheTTL)
	assert.Equal(t, "http://example.com/x", cfg.Realtime.Feeds["X"])
	assert.Equal(t, arrivals.DefaultFeedURLs()["A"], cfg.Realtime.Feeds["A"])
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)

	_, isSQLite := cfg.Storage().(*storage.SQLiteStorage)
	assert.True(t, isSQLite)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: :9000
realtime:
  api_key: from-file
`)

	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvAddr, ":7000")
	t.Setenv(EnvStaticURL, "https://example.com/gtfs.zip")
	t.Setenv(EnvTimezone, "UTC")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Realtime.APIKey)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Static.URL)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		expect  string
	}{
		{"bad yaml", "server: [", "parsing config"},
		{"bad backend", "static:\n  backend: postgres\n", "Backend"},
		{"bad url", "static:\n  url: not a url\n", "URL"},
		{"bad timeout", "static:\n  timeout: -1s\n", "Timeout"},
		{"bad level", "log:\n  level: loud\n", "Level"},
		{"bad timezone", "timezone: Mars/Olympus_Mons\n", "Mars/Olympus_Mons"},
		{"bad feed", "realtime:\n  feeds:\n    Q: nope\n", "Feeds"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expect)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"

	buf := &bytes.Buffer{}
	logger := cfg.Logger(buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("stop_id", "127S").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"stop_id":"127S"`)
	assert.Contains(t, buf.String(), `"service":"arrivals"`)
}

func TestManagerOptions(t *testing.T) {
	cfg := Default()
	cfg.Realtime.APIKey = "secret"

	opts, err := cfg.ManagerOptions(cfg.Logger(&bytes.Buffer{}), nil)
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", opts.Location.String())
	assert.Equal(t, "secret", opts.APIKey)
	assert.Equal(t, cfg.Realtime.Feeds, opts.FeedURLs)
	assert.Equal(t, arrivals.DefaultCacheTTL, opts.CacheTTL)
	_, isMemory := opts.Storage.(*storage.MemoryStorage)
	assert.True(t, isMemory)

	manager := arrivals.NewManager(opts)
	assert.Contains(t, manager.Routes, "1")
}
