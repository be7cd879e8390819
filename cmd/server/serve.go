package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediapro/api/internal/server"
	"github.com/mediapro/api/internal/tool"
	"github.com/mediapro/api/internal/worker"
	"github.com/mediapro/api/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cc *commandContext) error {
	cfg, logger, err := cc.ensureConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, status := range tool.CheckBinaries(ctx, tool.Requirements(cfg.Tools.YtDlpPath, cfg.Tools.FFmpegPath)) {
		if status.Available {
			logger.Info("tool available", "tool", status.Name, "version", status.Version)
		} else {
			logger.Warn("tool unavailable", "tool", status.Name, "detail", status.Detail)
		}
	}

	if cfg.Workspace.SweepOnStart {
		startupSweep(rt.workspaces, cfg.Workspace.MaxAge, logger)
	}

	go rt.hub.Run(ctx)

	if rt.asynq != nil {
		srv := worker.NewServer(rt.redisOpt, logger)
		mux := worker.NewServeMux(worker.NewCleanupWorker(rt.workspaces, logger))
		if err := srv.Start(mux); err != nil {
			logger.Warn("cleanup worker not started, delayed cleanup falls back to timers", "error", err)
			rt.workspaces.SetScheduler(nil)
		} else {
			defer srv.Shutdown()
		}
	}

	app := server.New(server.Deps{
		Config:    cfg,
		Jobs:      rt.jobs,
		System:    rt.system,
		Hub:       rt.hub,
		Redis:     rt.redis,
		Logger:    logger,
		AccessLog: true,
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("server starting",
		"addr", addr,
		"env", cfg.Server.Env,
		"scratch_root", rt.workspaces.Root(),
		"tool_slots", rt.limiter.Size(),
		"job_store", rt.store.Backend(),
	)
	if err := app.Listen(addr); err != nil {
		return err
	}
	return nil
}

// startupSweep removes entries older than maxAge. Active tracking only covers
// this process, so entries another replica created under a shared root are
// left alone until they age out.
func startupSweep(m *workspace.Manager, maxAge time.Duration, logger *slog.Logger) {
	result, err := m.Sweep(maxAge)
	switch {
	case errors.Is(err, workspace.ErrSweepInProgress):
		logger.Info("startup sweep skipped", "reason", "sweep in progress")
	case err != nil:
		logger.Warn("startup sweep failed", "error", err)
	default:
		logger.Info("startup sweep", "removed", result.Removed, "freed_bytes", result.FreedBytes, "max_age", maxAge)
	}
}
