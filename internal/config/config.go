package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/breed-check/internal/upload"
)

// Config is the resolved runtime configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	APIBase        string
	PredictTimeout time.Duration
	// MockFallback substitutes a synthesized prediction when the service fails.
	MockFallback bool
	// ShowFallbackNotice tells users when a displayed prediction was synthesized.
	ShowFallbackNotice bool

	MaxUploadBytes int64
	AllowedTypes   []string

	BreedsFile string

	RedisAddr   string
	SessionTTL  time.Duration
	HealthEvery time.Duration

	ShutdownTimeout time.Duration
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Server struct {
		HTTPAddr        string `yaml:"http_addr"`
		GRPCAddr        string `yaml:"grpc_addr"`
		LogLevel        string `yaml:"log_level"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Prediction struct {
		APIBase            string `yaml:"api_base"`
		Timeout            string `yaml:"timeout"`
		MockFallback       *bool  `yaml:"mock_fallback"`
		ShowFallbackNotice *bool  `yaml:"show_fallback_notice"`
		HealthInterval     string `yaml:"health_interval"`
	} `yaml:"prediction"`
	Upload struct {
		MaxBytes     int64    `yaml:"max_bytes"`
		AllowedTypes []string `yaml:"allowed_types"`
	} `yaml:"upload"`
	Breeds struct {
		File string `yaml:"file"`
	} `yaml:"breeds"`
	Session struct {
		RedisAddr string `yaml:"redis_addr"`
		TTL       string `yaml:"ttl"`
	} `yaml:"session"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		APIBase:         "http://localhost:5000/api",
		MockFallback:    true,
		MaxUploadBytes:  upload.DefaultMaxBytes,
		AllowedTypes:    append([]string(nil), upload.DefaultAllowedTypes...),
		SessionTTL:      24 * time.Hour,
		HealthEvery:     30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error; an unreadable or malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBase) == "" {
		return errors.New("missing API_BASE")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload size must be positive")
	}
	if len(c.AllowedTypes) == 0 {
		return errors.New("at least one allowed upload type is required")
	}
	if c.PredictTimeout < 0 {
		return errors.New("prediction timeout must not be negative")
	}
	return nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.HTTPAddr != "" {
		cfg.HTTPAddr = f.Server.HTTPAddr
	}
	if f.Server.GRPCAddr != "" {
		cfg.GRPCAddr = f.Server.GRPCAddr
	}
	if f.Server.LogLevel != "" {
		cfg.LogLevel = f.Server.LogLevel
	}
	if f.Prediction.APIBase != "" {
		cfg.APIBase = f.Prediction.APIBase
	}
	if f.Prediction.MockFallback != nil {
		cfg.MockFallback = *f.Prediction.MockFallback
	}
	if f.Prediction.ShowFallbackNotice != nil {
		cfg.ShowFallbackNotice = *f.Prediction.ShowFallbackNotice
	}
	if f.Upload.MaxBytes > 0 {
		cfg.MaxUploadBytes = f.Upload.MaxBytes
	}
	if len(f.Upload.AllowedTypes) > 0 {
		cfg.AllowedTypes = f.Upload.AllowedTypes
	}
	if f.Breeds.File != "" {
		cfg.BreedsFile = f.Breeds.File
	}
	if f.Session.RedisAddr != "" {
		cfg.RedisAddr = f.Session.RedisAddr
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"server.shutdown_timeout", f.Server.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"prediction.timeout", f.Prediction.Timeout, &cfg.PredictTimeout},
		{"prediction.health_interval", f.Prediction.HealthInterval, &cfg.HealthEvery},
		{"session.ttl", f.Session.TTL, &cfg.SessionTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.field = v
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envOrDefault("GRPC_ADDR", cfg.GRPCAddr)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.APIBase = envOrDefault("API_BASE", cfg.APIBase)
	cfg.PredictTimeout = envDuration("PREDICT_TIMEOUT", cfg.PredictTimeout)
	cfg.MockFallback = envBool("MOCK_FALLBACK", cfg.MockFallback)
	cfg.ShowFallbackNotice = envBool("SHOW_FALLBACK_NOTICE", cfg.ShowFallbackNotice)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.AllowedTypes = envCSV("ALLOWED_TYPES", cfg.AllowedTypes)
	cfg.BreedsFile = envOrDefault("BREEDS_FILE", cfg.BreedsFile)
	cfg.RedisAddr = envOrDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.SessionTTL = envDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.HealthEvery = envDuration("HEALTH_INTERVAL", cfg.HealthEvery)
	cfg.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt64(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envDuration accepts Go duration strings like "5s" or "250ms".
func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
