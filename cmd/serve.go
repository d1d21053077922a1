package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/penf-meetings/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-meetings/pkg/db"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
	"github.com/otherjamesbrown/penf-meetings/pkg/server"
)

// poolWatchInterval is how often pool health is logged while serving.
const poolWatchInterval = time.Minute

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *CommandDeps) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Run the meeting processing HTTP service.

Endpoints:
  GET  /health                  Liveness check
  GET  /ready                   Database readiness check
  GET  /version                 Build information
  GET  /metrics                 Prometheus metrics
  POST /process-meeting         Transcribe, summarize and notify
  POST /meetings/{id}/diarize   Speaker-label a stored transcript

The server shuts down gracefully on SIGINT or SIGTERM, letting in-flight
pipeline runs finish.`,
		Example: `  penf-meetings serve
  penf-meetings serve --addr :9090
  PENF_MEETINGS_STORE=memory penf-meetings serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), deps, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

func runServe(ctx context.Context, deps *CommandDeps, addr string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := NewLogger(cfg)
	logging.SetGlobal(logger)
	logger.Info("Starting penf-meetings", logging.F("version", buildinfo.String()))

	app, err := deps.BuildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Server.Addr
	srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	srvCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(app.Metrics, app.Registry),
	}
	if app.Pool != nil {
		opts = append(opts, server.WithReadiness(db.Readiness(app.Pool)))
	}
	srv := server.New(srvCfg, app.Pipeline, app.Diarizer, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if app.Pool != nil {
		g.Go(func() error {
			watchPool(ctx, app, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("penf-meetings stopped")
	return nil
}

// watchPool logs an unhealthy database until ctx is done.
func watchPool(ctx context.Context, app *App, logger logging.Logger) {
	ticker := time.NewTicker(poolWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := db.Check(ctx, app.Pool)
			if !status.Healthy {
				logger.Warn("Database unhealthy", logging.Err(status.Error))
				continue
			}
			logger.Debug("Database healthy",
				logging.F("latency", status.Latency),
				logging.F("acquired_conns", status.AcquiredConns),
				logging.F("total_conns", status.TotalConns))
		}
	}
}
