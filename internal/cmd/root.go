// Package cmd implements the agent-office command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/richardanaya/agent-office/internal/config"
	"github.com/richardanaya/agent-office/internal/graph"
	"github.com/richardanaya/agent-office/internal/logging"
	"github.com/richardanaya/agent-office/internal/observability"
)

// NewRootCmd builds the full command tree. Every call returns fresh
// commands with default flag values.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agent-office",
		Short: "Property-graph store for agent offices",
		Long: `agent-office stores nodes and typed edges with property maps, runs
traversals and searches over them, and keeps a Zettelkasten knowledge base
of notes addressed as 1, 1a, 1a2, ...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (default: $AGENT_OFFICE_CONFIG)")
	flags.String("backend", "", "Storage backend: memory or sqlite")
	flags.String("db", "", "SQLite database file (implies --backend sqlite)")
	flags.String("driver", "", "SQLite driver: sqlite3 (ncruces) or sqlite (modernc)")
	flags.BoolP("debug", "d", false, "Enable debug logging")

	root.AddCommand(
		newDBCmd(),
		newNodeCmd(),
		newEdgeCmd(),
		newNeighborsCmd(),
		newSearchCmd(),
		newRelatedCmd(),
		newPathCmd(),
		newSubgraphCmd(),
		newStatsCmd(),
		newNoteCmd(),
		newAgentCmd(),
		newMailCmd(),
	)
	return root
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// store is an opened backend plus what CLI commands need around it.
type store struct {
	backend graph.Backend
	// sqlite is set when the backend is SQLite, for schema commands.
	sqlite *graph.SQLiteBackend
	logger *slog.Logger
	close  func()
}

// loadConfig reads the config file and .env, then applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, ".env")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Storage.Path, _ = flags.GetString("db")
		if !flags.Changed("backend") {
			cfg.Storage.Backend = "sqlite"
		}
	}
	if flags.Changed("backend") {
		cfg.Storage.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("driver") {
		cfg.Storage.Driver, _ = flags.GetString("driver")
	}
	if debug, _ := flags.GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}
	// Commands that report metrics need the instrumented backend.
	if metrics, _ := flags.GetBool("metrics"); metrics {
		cfg.Observability.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured backend for CLI commands.
func openStore(cmd *cobra.Command) (*store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	s := &store{logger: logger}
	switch cfg.Storage.Backend {
	case "sqlite":
		sqlite, err := graph.NewSQLiteBackend(cmd.Context(), graph.SQLiteBackendOptions{
			Path:              cfg.Storage.Path,
			Driver:            cfg.Storage.Driver,
			CreateIfNotExists: true,
			BusyTimeout:       cfg.Storage.BusyTimeout,
			Logger:            logger,
		})
		if err != nil {
			logCloser.Close()
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		s.sqlite = sqlite
		s.backend = sqlite
	default:
		logger.Debug("using in-memory backend; data is discarded on exit")
		s.backend = graph.NewInMemoryBackend()
	}

	var tp *sdktrace.TracerProvider
	if cfg.Observability.Enabled {
		tp, err = observability.NewTracerProvider(cmd.Context(), observability.TracingConfig{
			File:         cfg.Observability.TraceFile,
			OTLPEndpoint: cfg.Observability.OTLPEndpoint,
			OTLPInsecure: cfg.Observability.OTLPInsecure,
		})
		if err != nil {
			_ = s.backend.Close()
			logCloser.Close()
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		s.backend = observability.Instrument(s.backend, cfg.Storage.Backend, observability.WithTracerProvider(tp))
	}

	backend := s.backend
	s.close = func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close backend", "error", err)
		}
		if tp != nil {
			// Detached so a cancelled command still flushes its spans.
			if err := tp.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				logger.Warn("flush traces", "error", err)
			}
		}
		logCloser.Close()
	}
	return s, nil
}

// resolveID accepts a UUID or any string key, which is mapped through
// graph.DeriveID.
func resolveID(s string) uuid.UUID {
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return graph.DeriveID(s)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
