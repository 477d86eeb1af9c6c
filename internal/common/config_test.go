package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "memory", config.Cache.Backend)
	assert.Equal(t, 10*time.Second, config.PollInterval())
	assert.Equal(t, 3, config.Polling.MaxTransientRetry)
	assert.Equal(t, 30*time.Second, config.RequestTimeout())
	assert.Equal(t, 500*time.Millisecond, config.EventThrottleInterval())
	assert.True(t, config.Janitor.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docgate.toml")
	content := `
environment = "production"

[api]
base_url = "https://docs.example.com"
rate_limit = 4

[cache]
backend = "badger"

[cache.badger]
path = "/tmp/docgate-test"

[polling]
interval = "2s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, "https://docs.example.com", config.API.BaseURL)
	assert.Equal(t, 4, config.API.RateLimit)
	assert.Equal(t, "badger", config.Cache.Backend)
	assert.Equal(t, "/tmp/docgate-test", config.Cache.Badger.Path)
	assert.Equal(t, 2*time.Second, config.PollInterval())

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, config.Polling.MaxTransientRetry)
	assert.True(t, config.Janitor.Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DOCGATE_API_BASE_URL", "https://override.example.com")
	t.Setenv("DOCGATE_API_TOKEN", "secret-token")
	t.Setenv("DOCGATE_POLL_INTERVAL", "15s")
	t.Setenv("DOCGATE_CACHE_BACKEND", "badger")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", config.API.BaseURL)
	assert.Equal(t, "secret-token", config.API.Token)
	assert.Equal(t, 15*time.Second, config.PollInterval())
	assert.Equal(t, "badger", config.Cache.Backend)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{
			name:    "bad backend",
			mutate:  "[cache]\nbackend = \"redis\"\n",
			wantErr: "invalid configuration",
		},
		{
			name:    "bad base url",
			mutate:  "[api]\nbase_url = \"not a url\"\n",
			wantErr: "invalid configuration",
		},
		{
			name:    "bad interval",
			mutate:  "[polling]\ninterval = \"soon\"\n",
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "docgate.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.mutate), 0644))

			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
