package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	Dispatch DispatchConfig

	LogLevel      string
	RunMigrations bool
}

// DispatchConfig bounds the driver search loop. Radii are meters.
type DispatchConfig struct {
	MinRadius       float64
	MaxRadius       float64
	RadiusStep      float64
	PerAttemptDelay time.Duration
	OverallTimeout  time.Duration
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		Dispatch: DispatchConfig{
			MinRadius:       5000,
			MaxRadius:       12000,
			RadiusStep:      1000,
			PerAttemptDelay: time.Second,
			OverallTimeout:  10 * time.Second,
		},
		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.Dispatch.MinRadius, "DISPATCH_MIN_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.Dispatch.MaxRadius, "DISPATCH_MAX_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.Dispatch.RadiusStep, "DISPATCH_RADIUS_STEP_M", &errs)
	setDurationFromEnv(&cfg.Dispatch.PerAttemptDelay, "DISPATCH_PER_ATTEMPT_DELAY", &errs)
	setDurationFromEnv(&cfg.Dispatch.OverallTimeout, "DISPATCH_OVERALL_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Dispatch.MinRadius <= 0 || cfg.Dispatch.MaxRadius < cfg.Dispatch.MinRadius {
		errs = append(errs, fmt.Errorf("dispatch radii must satisfy 0 < min <= max"))
	}
	if cfg.Dispatch.RadiusStep <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_STEP_M must be > 0"))
	}
	if cfg.Dispatch.OverallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_OVERALL_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
