// Package config loads processor configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config mirrors the environment variables documented in the external
// interfaces section of the spec: each top-level field groups the knobs
// for one subsystem.
type Config struct {
	App struct {
		Host         string
		Port         int
		MetricsPort  int
		Environment  string
		LogLevel     string
		DrainTimeout time.Duration
	}

	Bus struct {
		QueueCapacity int
	}

	Forensics struct {
		Enabled                  bool
		DriftSampleFile          string
		IncidentsDir             string
		DuplicateLRUMax          int
		LatencySpikeThresholdMs  int
		LatencyWindow            int
		LatencyEvalEvery         int
		LatencyConsecutiveSpikes int
		LogIntervalEvents        int
	}

	Flight struct {
		PreEvents  int
		PostEvents int
		CooldownS  int
	}

	Record struct {
		Enabled bool
		File    string
	}

	ClickHouse struct {
		Enabled         bool
		Host            string
		Port            int
		User            string
		Password        string
		Database        string
		MaxOpenConns    int
		MaxIdleConns    int
		ConnMaxLifetime time.Duration
		FlushInterval   time.Duration
		Debug           bool
	}

	OpsFeed struct {
		Enabled bool
	}
}

// Load reads configuration from the process environment, falling back to
// the defaults named in the spec where a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.App.Host = getEnvOrDefault("HOST", "0.0.0.0")
	cfg.App.Port = getEnvAsIntOrDefault("PORT", 9001)
	cfg.App.MetricsPort = getEnvAsIntOrDefault("METRICS_PORT", 9090)
	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.DrainTimeout = getEnvAsDurationOrDefault("DRAIN_TIMEOUT_S", 2*time.Second)

	cfg.Bus.QueueCapacity = getEnvAsIntOrDefault("BUS_QUEUE_CAPACITY", 1000)

	cfg.Forensics.Enabled = getEnvAsBoolOrDefault("FORENSICS", true)
	cfg.Forensics.DriftSampleFile = getEnvOrDefault("DRIFT_SAMPLE_FILE", "data/drift_samples.jsonl")
	cfg.Forensics.IncidentsDir = getEnvOrDefault("INCIDENTS_DIR", "data/incidents")
	cfg.Forensics.DuplicateLRUMax = getEnvAsIntOrDefault("DUPLICATE_LRU_MAX", 50000)
	cfg.Forensics.LatencySpikeThresholdMs = getEnvAsIntOrDefault("LATENCY_SPIKE_THRESHOLD_MS", 100)
	cfg.Forensics.LatencyWindow = getEnvAsIntOrDefault("LATENCY_WINDOW", 1000)
	cfg.Forensics.LatencyEvalEvery = getEnvAsIntOrDefault("LATENCY_EVAL_EVERY", 100)
	cfg.Forensics.LatencyConsecutiveSpikes = getEnvAsIntOrDefault("LATENCY_SPIKE_CONSECUTIVE", 2)
	cfg.Forensics.LogIntervalEvents = getEnvAsIntOrDefault("LOG_INTERVAL", 1000)

	cfg.Flight.PreEvents = getEnvAsIntOrDefault("FLIGHT_PRE_EVENTS", 5000)
	cfg.Flight.PostEvents = getEnvAsIntOrDefault("FLIGHT_POST_EVENTS", 3000)
	cfg.Flight.CooldownS = getEnvAsIntOrDefault("FLIGHT_COOLDOWN_S", 60)

	cfg.Record.Enabled = getEnvAsBoolOrDefault("RECORD", false)
	cfg.Record.File = getEnvOrDefault("RECORD_FILE", "data/btcusd.jsonl")

	cfg.ClickHouse.Enabled = getEnvAsBoolOrDefault("CLICKHOUSE_ENABLED", false)
	cfg.ClickHouse.Host = getEnvOrDefault("CLICKHOUSE_HOST", "localhost")
	cfg.ClickHouse.Port = getEnvAsIntOrDefault("CLICKHOUSE_PORT", 9000)
	cfg.ClickHouse.User = getEnvOrDefault("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.ClickHouse.Database = getEnvOrDefault("CLICKHOUSE_DB", "default")
	cfg.ClickHouse.MaxOpenConns = getEnvAsIntOrDefault("CLICKHOUSE_MAX_OPEN_CONNS", 10)
	cfg.ClickHouse.MaxIdleConns = getEnvAsIntOrDefault("CLICKHOUSE_MAX_IDLE_CONNS", 5)
	cfg.ClickHouse.ConnMaxLifetime = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_CONN_MAX_LIFETIME_MINS", 60)) * time.Minute
	cfg.ClickHouse.FlushInterval = getEnvAsDurationOrDefault("CLICKHOUSE_FLUSH_INTERVAL_S", 5*time.Second)
	cfg.ClickHouse.Debug = cfg.App.Environment != "production"

	cfg.OpsFeed.Enabled = getEnvAsBoolOrDefault("OPSFEED_ENABLED", false)

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal) * time.Second
		}
	}
	return defaultValue
}
