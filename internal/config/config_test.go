package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, b := range bindings {
		for _, name := range b.names {
			t.Setenv(envName(name), "")
		}
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.RetryDelay)
	assert.Equal(t, BackendSQLite, cfg.Backend)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "spendsync.yaml", `
base_url: https://budget.example.com
token: secret
db_path: /tmp/queue.db
backend: bolt
max_retries: 2
retry_delay: 5s
retry_policy: exponential
max_retry_delay: 1m
sync_interval: 15s
rollback_on_failure: true
metrics_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://budget.example.com", cfg.BaseURL)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "/tmp/queue.db", cfg.DBPath)
	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, PolicyExponential, cfg.RetryPolicy)
	assert.Equal(t, time.Minute, cfg.MaxRetryDelay)
	assert.Equal(t, 15*time.Second, cfg.SyncInterval)
	assert.True(t, cfg.RollbackOnFailure)
	assert.False(t, cfg.ResumeFailedOnStart)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoad_EmptyYAMLKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "empty.yaml", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "bad.yaml", "max_retrys: 3\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retrys")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "spendsync.yaml", "max_retries: 2\nretry_delay: 5s\n")
	t.Setenv("SPENDSYNC_MAX_RETRIES", "9")
	t.Setenv("SPENDSYNC_BACKEND", "BOLT")
	t.Setenv("SPENDSYNC_RESUME_FAILED_ON_START", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.True(t, cfg.ResumeFailedOnStart)
}

func TestLoad_UnprefixedRetryVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RETRIES", "3")
	t.Setenv("RETRY_DELAY", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)

	t.Setenv("SPENDSYNC_MAX_RETRIES", "7")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxRetries, "prefixed variable wins")
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "SPENDSYNC_TOKEN=from-dotenv\nSPENDSYNC_SYNC_INTERVAL=2m\n")
	// godotenv writes straight into the process environment and never
	// overrides a set variable, so unset the blanks clearEnv installed.
	for _, key := range []string{"SPENDSYNC_TOKEN", "SPENDSYNC_SYNC_INTERVAL"} {
		key := key
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Token)
	assert.Equal(t, 2*time.Minute, cfg.SyncInterval)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "SPENDSYNC_TOKEN=from-dotenv\n")
	t.Setenv("SPENDSYNC_TOKEN", "from-env")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
}

func TestLoad_MissingDotEnvFile(t *testing.T) {
	clearEnv(t)

	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SPENDSYNC_MAX_RETRIES", "many"},
		{"SPENDSYNC_RETRY_DELAY", "soon"},
		{"SPENDSYNC_ROLLBACK_ON_FAILURE", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero retries allowed", func(c *Config) { c.MaxRetries = 0 }, ""},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"zero delay", func(c *Config) { c.RetryDelay = 0 }, "retry_delay must be positive"},
		{"cap below delay", func(c *Config) { c.MaxRetryDelay = time.Second }, "max_retry_delay"},
		{"zero interval", func(c *Config) { c.SyncInterval = 0 }, "sync_interval"},
		{"unknown backend", func(c *Config) { c.Backend = "postgres" }, "backend"},
		{"unknown policy", func(c *Config) { c.RetryPolicy = "linear" }, "retry_policy"},
		{"no base url", func(c *Config) { c.BaseURL = "" }, "base_url"},
		{"no db path", func(c *Config) { c.DBPath = "" }, "db_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.MaxRetries = -1
	cfg.Backend = "mysql"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
	assert.Contains(t, err.Error(), "backend")
}
