package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workgraph/internal/app"
	"workgraph/internal/audit"
	"workgraph/internal/config"
	"workgraph/internal/repo"
	"workgraph/internal/server"
	"workgraph/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, AllowTeamHeader: cfg.Server.AllowTeamHeader}
			if s := os.Getenv("WORKGRAPH_JWT_SECRET"); s != "" {
				authCfg.JWTSecret = s
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowTeamHeader {
				return fmt.Errorf("WORKGRAPH_JWT_SECRET (or server.jwt_secret) is required for bearer auth")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := newLogger(true)
			a, err := app.Open(ctx, workspace, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			metrics, err := telemetry.InitMeterProvider(ctx, "workgraph")
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}
			if err := telemetry.InitMetrics(ctx); err != nil {
				return err
			}
			if err := telemetry.RegisterTaskGauge(a.TaskCounts); err != nil {
				return err
			}

			handler, err := server.New(server.Config{
				Engine:         a.Engine,
				BasePath:       basePath,
				Auth:           authCfg,
				Logger:         logger,
				MetricsHandler: metrics,
			})
			if err != nil {
				return err
			}
			go a.Sweeper().Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving workgraph API", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving workgraph API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func sweepCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release pending tasks whose dependency lag has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				promoted, err := a.Engine.ReevaluatePending(ctx, projectID)
				if err != nil {
					return err
				}
				if promoted == nil {
					promoted = []string{}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"promoted": promoted})
				}
				fmt.Printf("promoted %d task(s)\n", len(promoted))
				for _, id := range promoted {
					fmt.Println("  " + id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "limit to one project")
	return cmd
}

func updatesCmd() *cobra.Command {
	u := &cobra.Command{Use: "updates", Short: "Read and maintain the task update log"}
	u.AddCommand(updatesTailCmd())
	u.AddCommand(updatesCompactCmd())
	return u
}

func updatesTailCmd() *cobra.Command {
	var f repo.UpdateFilters
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print task updates after a sequence id",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if interval <= 0 {
				interval = 2 * time.Second
			}
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					items, err := a.Engine.ListTaskUpdates(ctx, f)
					if err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					if len(items) > 0 {
						f.AfterID = items[len(items)-1].ID
						if err := printUpdates(items); err != nil {
							return err
						}
					}
					if !follow {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
	cmd.Flags().Int64Var(&f.AfterID, "after", 0, "only updates with a greater sequence id")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.TaskID, "task", "", "task filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "update type filter")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 50, "maximum rows per page")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new updates")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --follow")
	return cmd
}

func updatesCompactCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Trim the task update log to the newest rows per task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c := a.Compactor()
				if cmd.Flags().Changed("keep") {
					c = &audit.Compactor{DB: a.DB, Repo: a.Engine.Repo, KeepPerTask: keep, Logger: a.Logger}
				}
				if c == nil {
					return fmt.Errorf("retention.keep_per_task is 0; pass --keep to compact anyway")
				}
				removed, err := c.Compact(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"removed": removed})
				}
				fmt.Printf("removed %d update(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "rows to keep per task (overrides retention.keep_per_task)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workgraph.yml",
		Long:  "workgraph.yml holds storage, assignment threshold, urgency windows, sweep and retention settings and the server block. Missing keys keep their defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default workgraph.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate workgraph.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for --team and --role",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if s := os.Getenv("WORKGRAPH_JWT_SECRET"); s != "" {
				secret = s
			}
			tok, err := server.SignToken(secret, actor.TeamID, actor.AgentRole, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": tok, "team_id": actor.TeamID, "agent_role": actor.AgentRole})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
