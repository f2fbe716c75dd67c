// Package config loads agent-office settings from YAML, .env files and
// AGENT_OFFICE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when no path is given.
const EnvConfigPath = "AGENT_OFFICE_CONFIG"

// Config is the full application configuration.
type Config struct {
	// Storage selects and configures the graph backend.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Log configures the process logger.
	Log LogConfig `yaml:"log" json:"log"`

	// Observability toggles metrics and tracing around the backend.
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// StorageConfig configures the graph backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" json:"backend" validate:"oneof=memory sqlite"`

	// Driver is the SQLite driver: "sqlite3" (ncruces) or "sqlite" (modernc).
	Driver string `yaml:"driver" json:"driver" validate:"omitempty,oneof=sqlite3 sqlite"`

	// Path is the SQLite database file. Empty means an in-memory database.
	Path string `yaml:"path" json:"path"`

	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout" validate:"min=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Format is text or json.
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Output is stderr, stdout or file.
	Output string `yaml:"output" json:"output" validate:"oneof=stderr stdout file"`

	// File is the log file path, required when Output is file.
	File string `yaml:"file" json:"file" validate:"required_if=Output file"`

	// Rotation limits for file output.
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb" validate:"min=1"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups" validate:"min=0"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days" validate:"min=0"`
	Compress   bool `yaml:"compress" json:"compress"`
}

// ObservabilityConfig configures instrumentation.
type ObservabilityConfig struct {
	// Enabled wraps the backend with metrics and spans.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TraceFile receives finished spans as JSON lines.
	TraceFile string `yaml:"trace_file" json:"trace_file"`

	// OTLPEndpoint is a host:port OTLP/gRPC collector for spans.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" validate:"omitempty,hostname_port"`

	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `yaml:"otlp_insecure" json:"otlp_insecure"`
}

// Default returns a configuration that works without any files: an
// in-memory backend and info-level text logs on stderr.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     "memory",
			Driver:      "sqlite3",
			BusyTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration. envFiles are loaded into the environment
// first (missing files are skipped, existing variables win), then the YAML
// file at path or $AGENT_OFFICE_CONFIG is applied over the defaults, then
// AGENT_OFFICE_<SECTION>_<KEY> variables, and the result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report YAML key names in errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
