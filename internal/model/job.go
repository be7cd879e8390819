package model

import (
	"fmt"
	"time"
)

// Job represents one request-scoped download/transcode job
type Job struct {
	ID            string      `json:"id"`
	Operation     Operation   `json:"operation"`
	URL           string      `json:"url"`
	Format        string      `json:"format,omitempty"`
	Container     string      `json:"container,omitempty"`
	Subtitles     *Subtitles  `json:"subtitles,omitempty"`
	Trim          *TrimWindow `json:"trim,omitempty"`
	WorkspacePath string      `json:"-"`
	State         JobState    `json:"state"`
	Progress      int         `json:"progress"`
	CurrentStep   string      `json:"currentStep,omitempty"`
	Outcome       *Outcome    `json:"outcome,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
}

// NewJob creates a job in the received state
func NewJob(id string, op Operation, url string) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Operation: op,
		URL:       url,
		State:     JobStateReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the job to next. Illegal transitions leave the job unchanged.
func (j *Job) Transition(next JobState) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.State, next)
	}
	now := time.Now()
	j.State = next
	j.UpdatedAt = now
	if next.Terminal() {
		j.CompletedAt = &now
	}
	return nil
}

// Succeed records the delivered artifact and moves the job to done
func (j *Job) Succeed(artifactPath, filename string) error {
	if err := j.Transition(JobStateDone); err != nil {
		return err
	}
	j.Progress = 100
	j.Outcome = &Outcome{Succeeded: true, ArtifactPath: artifactPath, Filename: filename}
	return nil
}

// Fail records the failure reason and moves the job to failed
func (j *Job) Fail(reason string) error {
	if err := j.Transition(JobStateFailed); err != nil {
		return err
	}
	j.Outcome = &Outcome{Reason: reason}
	return nil
}

// Outcome is the terminal result of a job
type Outcome struct {
	Succeeded    bool   `json:"succeeded"`
	ArtifactPath string `json:"-"`
	Filename     string `json:"filename,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Subtitles holds subtitle options of a download job
type Subtitles struct {
	Embed     bool     `json:"embed"`
	Languages []string `json:"languages,omitempty"`
	Automatic bool     `json:"automatic,omitempty"`
}

// TrimWindow is a start offset plus duration, both in seconds
type TrimWindow struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}
