package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 1000, cfg.Stream.BaseDelayMS)
	require.Equal(t, 30000, cfg.Stream.MaxDelayMS)
	require.Equal(t, 10, cfg.Stream.MaxAttempts)
	require.Equal(t, 5, cfg.Quotes.CacheTTLSec)
	require.Equal(t, "1D", cfg.Bars.DefaultTimeframe)
	require.Equal(t, 180, cfg.Bars.DefaultLimit)
	require.False(t, cfg.NATS.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
stream:
  url: wss://stream.example.com/v1
  max_attempts: 3
watch:
  - AAPL
  - MSFT
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "wss://stream.example.com/v1", cfg.Stream.URL)
	require.Equal(t, 3, cfg.Stream.MaxAttempts)
	require.Equal(t, []string{"AAPL", "MSFT"}, cfg.Watch)
	// untouched fields keep their defaults
	require.Equal(t, 1000, cfg.Stream.BaseDelayMS)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
vendor:
  api_key: from-file
`), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("VENDOR_API_KEY", "from-env")
	t.Setenv("QUOTE_CACHE_TTL_SEC", "30")
	t.Setenv("WATCH_SYMBOLS", "SPY, QQQ")
	t.Setenv("NATS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Server.Port)
	require.Equal(t, "from-env", cfg.Vendor.APIKey)
	require.Equal(t, 30, cfg.Quotes.CacheTTLSec)
	require.Equal(t, []string{"SPY", "QQQ"}, cfg.Watch)
	require.True(t, cfg.NATS.Enabled)
}

func TestLoad_MalformedYAMLIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnv_IgnoresGarbageNumbers(t *testing.T) {
	t.Setenv("STREAM_MAX_ATTEMPTS", "many")
	cfg := Default()
	applyEnv(&cfg)
	require.Equal(t, 10, cfg.Stream.MaxAttempts)
}
