package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server and CLI configuration. Values come from defaults,
// then an optional YAML file, then environment variables.
type Config struct {
	Environment string `yaml:"environment"`
	Port        string `yaml:"port"`
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`

	ModelManifest string `yaml:"model_manifest"`

	AttributionURL     string        `yaml:"attribution_url"`
	AttributionToken   string        `yaml:"attribution_token"`
	AttributionTimeout time.Duration `yaml:"attribution_timeout"`
	// AttributionFixture serves a precomputed attribution file instead of
	// calling the service. Only meant for local runs.
	AttributionFixture string `yaml:"attribution_fixture"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	RetentionDays int           `yaml:"retention_days"`
	PurgeInterval time.Duration `yaml:"purge_interval"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Environment:        "development",
		Port:               "8080",
		DataDir:            "./data",
		LogLevel:           "info",
		AttributionTimeout: 10 * time.Second,
		CacheTTL:           15 * time.Minute,
		RateLimitPerMin:    60,
		AllowedOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		RequestTimeout:     30 * time.Second,
		RetentionDays:      365,
		PurgeInterval:      24 * time.Hour,
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_PATH
// (default config.yaml, skipped when absent) and environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		path = envPath
	}
	if err := loadFile(path, &cfg); err != nil {
		return nil, err
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.Environment, "APP_ENV")
	envOverride(&cfg.Port, "PORT")
	envOverride(&cfg.DataDir, "DATA_DIR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.ModelManifest, "MODEL_MANIFEST")
	envOverride(&cfg.AttributionFixture, "ATTRIBUTION_FIXTURE")
	envOverride(&cfg.AttributionURL, "ATTRIBUTION_URL")
	envOverride(&cfg.AttributionToken, "ATTRIBUTION_TOKEN")
	envOverride(&cfg.RedisAddr, "REDIS_ADDR")
	envOverride(&cfg.RedisPassword, "REDIS_PASSWORD")
	envOverride(&cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	for _, o := range []struct {
		key string
		dst *int
	}{
		{"REDIS_DB", &cfg.RedisDB},
		{"RATE_LIMIT_PER_MIN", &cfg.RateLimitPerMin},
		{"RETENTION_DAYS", &cfg.RetentionDays},
	} {
		if err := envOverrideInt(o.dst, o.key); err != nil {
			return err
		}
	}

	for _, o := range []struct {
		key string
		dst *time.Duration
	}{
		{"ATTRIBUTION_TIMEOUT", &cfg.AttributionTimeout},
		{"CACHE_TTL", &cfg.CacheTTL},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"PURGE_INTERVAL", &cfg.PurgeInterval},
	} {
		if err := envOverrideDuration(o.dst, o.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("port %q is not a number", c.Port)
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("rate_limit_per_min must be positive, got %d", c.RateLimitPerMin)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.AttributionURL == "" && c.AttributionFixture == "" {
		return fmt.Errorf("one of attribution_url or attribution_fixture must be set")
	}
	return nil
}

// IsProduction reports whether the server runs in release mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, v)
	}
	*dst = n
	return nil
}

func envOverrideDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
