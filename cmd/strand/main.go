package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strandlabs/strand/internal/engine"
	"github.com/strandlabs/strand/internal/logging"
	"github.com/strandlabs/strand/internal/runners"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/internal/validation"
	"github.com/strandlabs/strand/pkg/mcp"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}

	caps := engine.Capabilities{
		Agents: runners.NewHTTPAgentRunner(cfg.AgentBaseURL, time.Duration(cfg.AgentTimeoutMS)*time.Millisecond),
		Tools:  runners.NewStdioToolRunner(st, logger),
		HTTP:   runners.NewHTTPClient(runners.HTTPConfig{Timeout: time.Duration(cfg.HTTPTimeoutMS) * time.Millisecond}),
	}

	eng, err := engine.NewEngine(st, caps, engine.Config{MaxParallel: cfg.PoolSize}, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := mcp.NewStrandServer(mcp.StrandServerDeps{
		Engine:    eng,
		Store:     st,
		Validator: validator,
		Logger:    logger,
	})

	logger.Info("strand server starting", "db", cfg.DBPath, "pool_size", cfg.PoolSize)
	return srv.Serve(ctx)
}

// openStore picks libSQL unless STRAND_DB_PATH=:memory: asks for the
// in-memory store.
func openStore(cfg Config) (store.Store, error) {
	if cfg.DBPath == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	return store.NewLibSQLStore(cfg.DBPath)
}

// newLogger builds the process logger. Logs go to stderr because stdout
// carries the MCP stdio transport.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
