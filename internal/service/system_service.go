package service

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mediapro/api/internal/model"
	"github.com/mediapro/api/internal/tool"
	"github.com/mediapro/api/internal/workspace"
)

const healthCacheTTL = 30 * time.Second

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status   string        `json:"status"`
	Tools    []tool.Status `json:"tools"`
	JobStore string        `json:"jobStore"`
	Redis    bool          `json:"redis"`
}

// SystemService reports service state and runs scratch maintenance.
type SystemService struct {
	workspaces   *workspace.Manager
	limiter      *tool.Limiter
	store        JobStore
	requirements []tool.Requirement
	redisReady   func(ctx context.Context) bool
	sweepMaxAge  time.Duration

	mu        sync.Mutex
	checked   time.Time
	toolState []tool.Status
}

// SystemServiceOptions wires a SystemService.
type SystemServiceOptions struct {
	Workspaces   *workspace.Manager
	Limiter      *tool.Limiter
	Store        JobStore
	Requirements []tool.Requirement
	// RedisReady reports whether Redis answers; nil means Redis is not in use.
	RedisReady  func(ctx context.Context) bool
	SweepMaxAge time.Duration
}

func NewSystemService(opts SystemServiceOptions) *SystemService {
	return &SystemService{
		workspaces:   opts.Workspaces,
		limiter:      opts.Limiter,
		store:        opts.Store,
		requirements: opts.Requirements,
		redisReady:   opts.RedisReady,
		sweepMaxAge:  opts.SweepMaxAge,
	}
}

// Platforms lists the recognised source platforms.
func (s *SystemService) Platforms() []model.Platform {
	return Platforms()
}

// Stats reports workspace counters, scratch usage and tool slot usage.
func (s *SystemService) Stats() *model.StatsResponse {
	used := s.workspaces.DiskUsage()
	backend := "none"
	if s.store != nil {
		backend = s.store.Backend()
	}
	return &model.StatsResponse{
		Workspaces:      s.workspaces.Stats(),
		ScratchRoot:     s.workspaces.Root(),
		ScratchBytes:    used,
		ScratchSize:     humanize.Bytes(uint64(used)),
		ToolSlots:       s.limiter.Size(),
		ToolSlotsInUse:  s.limiter.InUse(),
		JobStoreBackend: backend,
	}
}

// Sweep removes inactive scratch entries older than the configured max age.
func (s *SystemService) Sweep() (*model.SweepResponse, error) {
	result, err := s.workspaces.Sweep(s.sweepMaxAge)
	if err != nil {
		return nil, err
	}
	return &model.SweepResponse{
		Removed:    result.Removed,
		FreedBytes: result.FreedBytes,
		Freed:      humanize.Bytes(uint64(result.FreedBytes)),
		Skipped:    result.Skipped,
	}, nil
}

// Health reports tool availability. Binary checks are cached briefly since
// each one spawns a process.
func (s *SystemService) Health(ctx context.Context) *HealthReport {
	tools := s.toolStatus(ctx)

	report := &HealthReport{Status: "ok", Tools: tools}
	if s.store != nil {
		report.JobStore = s.store.Backend()
	}
	if s.redisReady != nil {
		report.Redis = s.redisReady(ctx)
	}
	for _, t := range tools {
		if !t.Available && !t.Optional {
			report.Status = "degraded"
		}
	}
	return report
}

func (s *SystemService) toolStatus(ctx context.Context) []tool.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toolState != nil && time.Since(s.checked) < healthCacheTTL {
		return s.toolState
	}
	s.toolState = tool.CheckBinaries(ctx, s.requirements)
	s.checked = time.Now()
	return s.toolState
}
