package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"APP_ENV", "PORT", "DATA_DIR", "LOG_LEVEL", "MODEL_MANIFEST",
	"ATTRIBUTION_URL", "ATTRIBUTION_TOKEN", "ATTRIBUTION_TIMEOUT", "ATTRIBUTION_FIXTURE",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "CACHE_TTL", "RATE_LIMIT_PER_MIN",
	"ALLOWED_ORIGINS", "REQUEST_TIMEOUT", "RETENTION_DAYS", "PURGE_INTERVAL",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

// isolate runs the test in an empty directory with the config environment
// cleared, so a developer's .env or config.yaml does not leak in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("ATTRIBUTION_URL", "http://localhost:8000")

	cfg, err := Load()
	require.NoError(t, err)

	want := Default()
	want.AttributionURL = "http://localhost:8000"
	assert.Equal(t, want, *cfg)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
port: "9090"
attribution_url: http://shap:8000
cache_ttl: 5m
retention_days: 90
allowed_origins:
  - https://clinic.example
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "7070")
	t.Setenv("RATE_LIMIT_PER_MIN", "10")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ATTRIBUTION_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "http://shap:8000", cfg.AttributionURL)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, 10, cfg.RateLimitPerMin)
	assert.Equal(t, 3*time.Second, cfg.AttributionTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_ADDR=localhost:6379\nREDIS_DB=2\nATTRIBUTION_FIXTURE=fixture.json\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "fixture.json", cfg.AttributionFixture)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad int", env: map[string]string{"ATTRIBUTION_URL": "http://shap", "RETENTION_DAYS": "forever"}},
		{name: "bad duration", env: map[string]string{"ATTRIBUTION_URL": "http://shap", "CACHE_TTL": "soon"}},
		{name: "non-positive rate", env: map[string]string{"ATTRIBUTION_URL": "http://shap", "RATE_LIMIT_PER_MIN": "0"}},
		{name: "bad port", env: map[string]string{"ATTRIBUTION_URL": "http://shap", "PORT": "http"}},
		{name: "bad yaml", file: "port: [1,"},
		{name: "no attribution source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			if tt.file != "" {
				path := filepath.Join(dir, "bad.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
				t.Setenv("CONFIG_PATH", path)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
