package service

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mediapro/api/internal/model"
)

const publishTimeout = 2 * time.Second

// Notifier receives job progress for realtime subscribers.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, state model.JobState, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

type noopNotifier struct{}

func (noopNotifier) BroadcastProgress(string, int, model.JobState, string) {}
func (noopNotifier) BroadcastComplete(string, interface{})                  {}
func (noopNotifier) BroadcastError(string, string, string)                  {}

// jobRun serialises updates to one job and publishes every change to the
// store and the notifier. Snapshots are numbered under mu and a store write
// never replaces a newer snapshot with an older one.
type jobRun struct {
	store    JobStore
	notifier Notifier
	logger   *slog.Logger

	mu  sync.Mutex
	job *model.Job
	seq uint64

	persistMu sync.Mutex
	saved     uint64
}

func (r *jobRun) id() string {
	return r.job.ID
}

func (r *jobRun) update(fn func(job *model.Job)) {
	r.mu.Lock()
	fn(r.job)
	r.job.UpdatedAt = time.Now()
	snapshot, seq := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot, seq)
}

// advance moves the job to state and reports step. A negative progress
// keeps the current value.
func (r *jobRun) advance(state model.JobState, step string, progress int) {
	r.mu.Lock()
	if err := r.job.Transition(state); err != nil {
		r.logger.Warn("job transition rejected", "error", err)
	}
	r.job.CurrentStep = step
	if progress >= 0 {
		r.job.Progress = progress
	}
	snapshot, seq := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(snapshot, seq)
	r.notifier.BroadcastProgress(snapshot.ID, snapshot.Progress, snapshot.State, step)
	r.logger.Info("job advanced", "state", state, "step", step)
}

// progress maps a tool percentage onto the [from, to] band of the job.
func (r *jobRun) progress(from, to int, step string) func(float64) {
	return func(pct float64) {
		value := from + int(math.Round(float64(to-from)*math.Min(100, math.Max(0, pct))/100))
		r.mu.Lock()
		if value <= r.job.Progress || r.job.State.Terminal() {
			r.mu.Unlock()
			return
		}
		r.job.Progress = value
		r.job.CurrentStep = step
		r.job.UpdatedAt = time.Now()
		snapshot, seq := r.snapshotLocked()
		r.mu.Unlock()

		r.persist(snapshot, seq)
		r.notifier.BroadcastProgress(snapshot.ID, snapshot.Progress, snapshot.State, step)
	}
}

// fail records err on the job and returns it unchanged.
func (r *jobRun) fail(err error) error {
	reason := ErrorReason(err)
	r.mu.Lock()
	if ferr := r.job.Fail(reason); ferr != nil {
		r.mu.Unlock()
		r.logger.Warn("job already finished", "error", err)
		return err
	}
	snapshot, seq := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(snapshot, seq)
	r.notifier.BroadcastError(snapshot.ID, ErrorCode(err), reason)
	r.logger.Error("job failed", "error", err)
	return err
}

func (r *jobRun) complete(artifactPath, filename string) {
	r.mu.Lock()
	if err := r.job.Succeed(artifactPath, filename); err != nil {
		r.mu.Unlock()
		r.logger.Warn("job completion rejected", "error", err)
		return
	}
	snapshot, seq := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(snapshot, seq)
	r.notifier.BroadcastComplete(snapshot.ID, snapshot.Outcome)
	r.logger.Info("job done", "filename", filename)
}

// snapshotLocked copies the job and numbers the copy. r.mu must be held.
func (r *jobRun) snapshotLocked() (*model.Job, uint64) {
	r.seq++
	snapshot := *r.job
	return &snapshot, r.seq
}

func (r *jobRun) persist(job *model.Job, seq uint64) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if seq <= r.saved {
		r.logger.Debug("dropping stale job snapshot", "seq", seq, "saved", r.saved)
		return
	}
	r.saved = seq

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.store.Save(ctx, job); err != nil {
		r.logger.Warn("failed to save job record", "error", err)
	}
}
