package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: AGENT_OFFICE_[SECTION]_[KEY] (e.g., AGENT_OFFICE_STORAGE_PATH).
func ApplyEnvOverrides(cfg *Config) {
	// Storage
	setEnvString(&cfg.Storage.Backend, "AGENT_OFFICE_STORAGE_BACKEND")
	setEnvString(&cfg.Storage.Driver, "AGENT_OFFICE_STORAGE_DRIVER")
	setEnvString(&cfg.Storage.Path, "AGENT_OFFICE_STORAGE_PATH")
	setEnvDuration(&cfg.Storage.BusyTimeout, "AGENT_OFFICE_STORAGE_BUSY_TIMEOUT")

	// Log
	setEnvString(&cfg.Log.Level, "AGENT_OFFICE_LOG_LEVEL")
	setEnvString(&cfg.Log.Format, "AGENT_OFFICE_LOG_FORMAT")
	setEnvString(&cfg.Log.Output, "AGENT_OFFICE_LOG_OUTPUT")
	setEnvString(&cfg.Log.File, "AGENT_OFFICE_LOG_FILE")
	setEnvInt(&cfg.Log.MaxSizeMB, "AGENT_OFFICE_LOG_MAX_SIZE_MB")
	setEnvInt(&cfg.Log.MaxBackups, "AGENT_OFFICE_LOG_MAX_BACKUPS")
	setEnvInt(&cfg.Log.MaxAgeDays, "AGENT_OFFICE_LOG_MAX_AGE_DAYS")
	setEnvBool(&cfg.Log.Compress, "AGENT_OFFICE_LOG_COMPRESS")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "AGENT_OFFICE_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.TraceFile, "AGENT_OFFICE_OBSERVABILITY_TRACE_FILE")
	setEnvString(&cfg.Observability.OTLPEndpoint, "AGENT_OFFICE_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.OTLPInsecure, "AGENT_OFFICE_OBSERVABILITY_OTLP_INSECURE")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.ToLower(val)); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
