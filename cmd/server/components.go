package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mediapro/api/internal/config"
	"github.com/mediapro/api/internal/service"
	"github.com/mediapro/api/internal/tool"
	ws "github.com/mediapro/api/internal/websocket"
	"github.com/mediapro/api/internal/worker"
	"github.com/mediapro/api/internal/workspace"
)

// components holds the long-lived services shared by the commands.
type components struct {
	cfg    *config.Config
	logger *slog.Logger

	redis     *redis.Client
	redisOpt  asynq.RedisClientOpt
	asynq     *asynq.Client
	inspector *asynq.Inspector

	workspaces *workspace.Manager
	limiter    *tool.Limiter
	ytdlp      *tool.YtDlp
	ffmpeg     *tool.FFmpeg
	store      service.JobStore
	hub        *ws.Hub
	jobs       *service.JobService
	system     *service.SystemService
}

func newComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	rt := &components{cfg: cfg, logger: logger}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis not available, using in-memory job store and timers", "addr", cfg.Redis.Addr, "error", err)
			_ = client.Close()
		} else {
			rt.redis = client
			rt.redisOpt = asynq.RedisClientOpt{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}
			rt.asynq = asynq.NewClient(rt.redisOpt)
			rt.inspector = asynq.NewInspector(rt.redisOpt)
		}
	}

	var scheduler workspace.Scheduler
	if rt.asynq != nil {
		scheduler = worker.NewAsynqScheduler(rt.asynq, rt.inspector, logger)
	}
	workspaces, err := workspace.NewManager(workspace.Options{
		Root:      cfg.Workspace.Root,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.workspaces = workspaces

	rt.limiter = tool.NewLimiter(cfg.Tools.MaxConcurrent)
	rt.ytdlp = tool.NewYtDlp(tool.YtDlpConfig{
		Path:            cfg.Tools.YtDlpPath,
		MetadataTimeout: cfg.Tools.MetadataTimeout,
		FetchTimeout:    cfg.Tools.FetchTimeout,
	}, rt.limiter, logger)
	rt.ffmpeg = tool.NewFFmpeg(tool.FFmpegConfig{
		Path:    cfg.Tools.FFmpegPath,
		Timeout: cfg.Tools.TranscodeTimeout,
	}, rt.limiter, logger)

	if rt.redis != nil {
		rt.store = service.NewRedisJobStore(rt.redis, cfg.Jobs.RecordTTL)
	} else {
		rt.store = service.NewMemoryJobStore(cfg.Jobs.RecordTTL)
	}

	rt.hub = ws.NewHub(logger)
	rt.jobs = service.NewJobService(service.JobServiceOptions{
		Fetcher:      service.NewFetcher(rt.ytdlp),
		Transcoder:   rt.ffmpeg,
		Workspaces:   rt.workspaces,
		Limiter:      rt.limiter,
		Store:        rt.store,
		Notifier:     rt.hub,
		CleanupDelay: cfg.Workspace.CleanupDelay,
		Logger:       logger,
	})

	var redisReady func(context.Context) bool
	if rt.redis != nil {
		client := rt.redis
		redisReady = func(ctx context.Context) bool {
			return client.Ping(ctx).Err() == nil
		}
	}
	rt.system = service.NewSystemService(service.SystemServiceOptions{
		Workspaces:   rt.workspaces,
		Limiter:      rt.limiter,
		Store:        rt.store,
		Requirements: tool.Requirements(cfg.Tools.YtDlpPath, cfg.Tools.FFmpegPath),
		RedisReady:   redisReady,
		SweepMaxAge:  cfg.Workspace.MaxAge,
	})

	return rt, nil
}

// Close releases active workspaces and closes the Redis connections.
func (rt *components) Close() {
	if rt.workspaces != nil {
		rt.workspaces.Close()
	}
	if rt.inspector != nil {
		_ = rt.inspector.Close()
	}
	if rt.asynq != nil {
		_ = rt.asynq.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}
