package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds engine configuration.
type Config struct {
	LogLevel           string
	ListenAddr         string
	PolicyDir          string
	CoordinationWindow time.Duration
	DatabaseURL        string
	SQLitePath         string
	RedisAddr          string
	OTLPEndpoint       string
	TelemetryEnabled   bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	listen := os.Getenv("CONCORD_LISTEN")
	if listen == "" {
		listen = ":8093"
	}

	policyDir := os.Getenv("CONCORD_POLICY_DIR")
	if policyDir == "" {
		policyDir = "./policies"
	}

	window := 100 * time.Millisecond
	if raw := os.Getenv("CONCORD_WINDOW_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			window = time.Duration(ms) * time.Millisecond
		}
	}

	sqlitePath := os.Getenv("CONCORD_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "concord.db"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		LogLevel:           logLevel,
		ListenAddr:         listen,
		PolicyDir:          policyDir,
		CoordinationWindow: window,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         sqlitePath,
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		OTLPEndpoint:       otlp,
		TelemetryEnabled:   os.Getenv("TELEMETRY_DISABLED") != "true",
	}
}
