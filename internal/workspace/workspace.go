package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediapro/api/internal/model"
)

var (
	ErrInvalidID       = errors.New("invalid workspace id")
	ErrSweepInProgress = errors.New("sweep already in progress")
)

// Error reports a failed workspace operation.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Scheduler arranges a delayed Expire call for a workspace path.
type Scheduler interface {
	Schedule(path string, delay time.Duration) error
	Cancel(path string)
}

// Workspace is a per-job scratch directory.
type Workspace struct {
	ID   string
	Path string

	m *Manager
}

// Release removes the workspace now. Calling it more than once is safe.
func (w *Workspace) Release() error {
	return w.m.CleanupNow(w.Path)
}

// ScheduleCleanup arms the delayed removal of the workspace.
func (w *Workspace) ScheduleCleanup(delay time.Duration) {
	w.m.ScheduleCleanup(w.Path, delay)
}

// File returns the path of name inside the workspace.
func (w *Workspace) File(name string) string {
	return filepath.Join(w.Path, name)
}

type entry struct {
	once      sync.Once
	scheduler Scheduler
	createdAt time.Time
}

// Options configures a Manager.
type Options struct {
	Root      string
	Scheduler Scheduler
	Logger    *slog.Logger
}

// Manager owns the scratch root and the lifecycle of every workspace under it.
// Each successful Allocate is paired with exactly one removal attempt.
type Manager struct {
	root     string
	logger   *slog.Logger
	timers   *TimerScheduler
	external Scheduler

	mu     sync.Mutex
	active map[string]*entry

	allocated atomic.Int64
	released  atomic.Int64
}

// NewManager creates the scratch root if needed and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, &Error{Op: "init", Path: opts.Root, Err: errors.New("scratch root not configured")}
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, &Error{Op: "init", Path: opts.Root, Err: err}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Op: "init", Path: root, Err: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		root:     root,
		logger:   logger.With("component", "workspace"),
		external: opts.Scheduler,
		active:   make(map[string]*entry),
	}
	m.timers = NewTimerScheduler(m.Expire)
	return m, nil
}

// Root returns the absolute scratch root.
func (m *Manager) Root() string {
	return m.root
}

// SetScheduler replaces the delayed-cleanup backend. Workspaces scheduled
// before the call keep their original backend.
func (m *Manager) SetScheduler(s Scheduler) {
	m.mu.Lock()
	m.external = s
	m.mu.Unlock()
}

// Allocate creates <root>/<jobID>.
func (m *Manager) Allocate(jobID string) (*Workspace, error) {
	if !validID(jobID) {
		return nil, &Error{Op: "allocate", Path: jobID, Err: ErrInvalidID}
	}
	path := filepath.Join(m.root, jobID)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, &Error{Op: "allocate", Path: path, Err: err}
	}

	m.mu.Lock()
	m.active[path] = &entry{createdAt: time.Now()}
	m.mu.Unlock()
	m.allocated.Add(1)

	m.logger.Debug("workspace allocated", "job_id", jobID, "path", path)
	return &Workspace{ID: jobID, Path: path, m: m}, nil
}

// ScheduleCleanup arranges removal of path after delay. Paths that are not
// active are ignored. Scheduling errors fall back to an in-process timer.
// The scheduler is called without holding the manager lock since the asynq
// backend talks to Redis.
func (m *Manager) ScheduleCleanup(path string, delay time.Duration) {
	m.mu.Lock()
	e, ok := m.active[path]
	if !ok {
		m.mu.Unlock()
		return
	}
	previous := e.scheduler
	scheduler := m.external
	m.mu.Unlock()

	if previous != nil {
		previous.Cancel(path)
	}
	if scheduler == nil {
		scheduler = m.timers
	}
	if err := scheduler.Schedule(path, delay); err != nil {
		m.logger.Warn("cleanup scheduling failed, using timer", "path", path, "error", err)
		scheduler = m.timers
		_ = m.timers.Schedule(path, delay)
	}

	m.mu.Lock()
	_, still := m.active[path]
	if still {
		e.scheduler = scheduler
	}
	m.mu.Unlock()

	if !still {
		// Released while scheduling; nothing left to fire for.
		scheduler.Cancel(path)
		return
	}
	m.logger.Debug("cleanup scheduled", "path", path, "delay", delay)
}

// CleanupNow removes path immediately. Removing an already released or
// unknown path is a no-op.
func (m *Manager) CleanupNow(path string) error {
	m.mu.Lock()
	e, ok := m.active[path]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.release(path, e, "immediate")
}

// Expire is the scheduled side of cleanup. Unknown paths under the root are
// removed as orphans from an earlier run.
func (m *Manager) Expire(path string) {
	m.mu.Lock()
	e, ok := m.active[path]
	m.mu.Unlock()
	if ok {
		if err := m.release(path, e, "scheduled"); err != nil {
			m.logger.Error("scheduled cleanup failed", "path", path, "error", err)
		}
		return
	}

	if !m.contains(path) {
		m.logger.Warn("refusing to expire path outside scratch root", "path", path)
		return
	}
	if err := os.RemoveAll(path); err != nil {
		m.logger.Error("orphan cleanup failed", "path", path, "error", err)
	}
}

func (m *Manager) release(path string, e *entry, reason string) error {
	var err error
	e.once.Do(func() {
		m.mu.Lock()
		delete(m.active, path)
		scheduler := e.scheduler
		m.mu.Unlock()

		if scheduler != nil && reason != "scheduled" {
			scheduler.Cancel(path)
		}

		if rmErr := os.RemoveAll(path); rmErr != nil {
			err = &Error{Op: "cleanup", Path: path, Err: rmErr}
			m.logger.Error("workspace cleanup failed", "path", path, "reason", reason, "error", rmErr)
		} else {
			m.logger.Debug("workspace removed", "path", path, "reason", reason)
		}
		m.released.Add(1)
	})
	return err
}

// Close releases every active workspace and stops pending timers.
func (m *Manager) Close() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.active))
	for path := range m.active {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	for _, path := range paths {
		if err := m.CleanupNow(path); err != nil {
			m.logger.Warn("cleanup on close failed", "path", path, "error", err)
		}
	}
	m.timers.Stop()
}

// Stats returns allocation counters.
func (m *Manager) Stats() model.WorkspaceStats {
	m.mu.Lock()
	active := int64(len(m.active))
	m.mu.Unlock()
	return model.WorkspaceStats{
		Allocated: m.allocated.Load(),
		Released:  m.released.Load(),
		Active:    active,
	}
}

// IsActive reports whether path is an allocated workspace not yet released.
func (m *Manager) IsActive(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[path]
	return ok
}

func (m *Manager) contains(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}
