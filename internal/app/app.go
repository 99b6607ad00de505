// Package app wires storage, migrations and the engine for the CLI and server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"workgraph/internal/audit"
	"workgraph/internal/config"
	"workgraph/internal/db"
	"workgraph/internal/engine"
	"workgraph/internal/migrate"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Dialect db.Dialect
	Engine  engine.Engine
	Logger  *slog.Logger
}

// Open connects to the configured store, applies migrations and returns a
// ready engine. A nil cfg falls back to the workspace config or defaults.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		loaded, err := config.LoadOptional(workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Storage.Driver,
		Workspace: workspace,
		DSN:       cfg.Storage.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", engine.ErrStorageUnavailable, err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, dialect, cfg)
	e.Logger = logger
	return &App{Config: cfg, DB: conn, Dialect: dialect, Engine: e, Logger: logger}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Compactor returns nil when retention is disabled.
func (a *App) Compactor() *audit.Compactor {
	if a.Config.Retention.KeepPerTask <= 0 {
		return nil
	}
	return &audit.Compactor{
		DB:          a.DB,
		Repo:        a.Engine.Repo,
		KeepPerTask: a.Config.Retention.KeepPerTask,
		Logger:      a.Logger,
	}
}

func (a *App) Sweeper() engine.Sweeper {
	return engine.Sweeper{
		Engine:    a.Engine,
		Interval:  a.Config.Readiness.SweepInterval,
		Compactor: a.Compactor(),
	}
}

// TaskCounts reports task counts by status across every project.
func (a *App) TaskCounts(ctx context.Context) (map[string]int, error) {
	return a.Engine.Repo.CountTasksByStatus(ctx, a.DB, "")
}
