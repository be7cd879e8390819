package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeWorkspaceCleanup = "workspace:cleanup"
	CleanupQueue             = "cleanup"
)

type cleanupPayload struct {
	Path string `json:"path"`
}

// NewCleanupTask builds the delayed removal task for a workspace path.
func NewCleanupTask(path string) (*asynq.Task, error) {
	data, err := json.Marshal(cleanupPayload{Path: path})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeWorkspaceCleanup, data), nil
}

func cleanupTaskID(path string) string {
	return "cleanup-" + filepath.Base(path)
}

// AsynqScheduler schedules workspace removal as delayed asynq tasks so the
// grace period survives a restart of the API process.
type AsynqScheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *slog.Logger
}

func NewAsynqScheduler(client *asynq.Client, inspector *asynq.Inspector, logger *slog.Logger) *AsynqScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqScheduler{
		client:    client,
		inspector: inspector,
		logger:    logger.With("component", "cleanup-scheduler"),
	}
}

// Schedule enqueues the removal of path after delay.
func (s *AsynqScheduler) Schedule(path string, delay time.Duration) error {
	task, err := NewCleanupTask(path)
	if err != nil {
		return fmt.Errorf("failed to build cleanup task: %w", err)
	}

	enqueue := func() error {
		_, err := s.client.Enqueue(task,
			asynq.Queue(CleanupQueue),
			asynq.TaskID(cleanupTaskID(path)),
			asynq.ProcessIn(delay),
			asynq.MaxRetry(3),
		)
		return err
	}

	err = enqueue()
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		s.Cancel(path)
		err = enqueue()
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue cleanup task: %w", err)
	}
	return nil
}

// Cancel removes a pending cleanup task for path, if any.
func (s *AsynqScheduler) Cancel(path string) {
	err := s.inspector.DeleteTask(CleanupQueue, cleanupTaskID(path))
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		s.logger.Warn("failed to cancel cleanup task", "path", path, "error", err)
	}
}

// Expirer removes a workspace whose grace period ended.
type Expirer interface {
	Expire(path string)
}

// CleanupWorker processes workspace cleanup tasks
type CleanupWorker struct {
	workspaces Expirer
	logger     *slog.Logger
}

func NewCleanupWorker(workspaces Expirer, logger *slog.Logger) *CleanupWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupWorker{
		workspaces: workspaces,
		logger:     logger.With("component", "cleanup-worker"),
	}
}

// ProcessTask handles cleanup task processing
func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload cleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal cleanup payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Path == "" {
		return fmt.Errorf("cleanup payload without path: %w", asynq.SkipRetry)
	}

	w.logger.Debug("grace period ended", "path", payload.Path)
	w.workspaces.Expire(payload.Path)
	return nil
}

// NewServer builds the asynq server that runs cleanup tasks.
func NewServer(opt asynq.RedisClientOpt, logger *slog.Logger) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			CleanupQueue: 1,
		},
		Logger: NewLogger(logger),
	})
}

// NewServeMux routes cleanup tasks to w.
func NewServeMux(w *CleanupWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeWorkspaceCleanup, w.ProcessTask)
	return mux
}
