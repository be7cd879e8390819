package model

// InfoRequest is the body of POST /api/info
type InfoRequest struct {
	URL string `json:"url" validate:"required,media_url"`
}

// DownloadRequest is the body of POST /api/download
type DownloadRequest struct {
	URL                  string   `json:"url" validate:"required,media_url"`
	FormatSelector       string   `json:"formatSelector" validate:"omitempty,max=200,format_selector"`
	OutputContainer      string   `json:"outputContainer" validate:"omitempty,oneof=mp4 mkv webm mov"`
	EmbedSubtitles       bool     `json:"embedSubtitles"`
	SubtitleLanguages    []string `json:"subtitleLanguages" validate:"omitempty,max=20,dive,required,max=20,lang_tag"`
	IncludeAutoSubtitles bool     `json:"includeAutoSubtitles"`
	Stream               bool     `json:"stream"`
}

// ExtractAudioRequest is the body of POST /api/extract-audio
type ExtractAudioRequest struct {
	URL         string `json:"url" validate:"required,media_url"`
	AudioFormat string `json:"audioFormat" validate:"required,max=10,alphanum"`
}

// ProcessVideoRequest is the body of POST /api/process-video
type ProcessVideoRequest struct {
	URL          string `json:"url" validate:"required,media_url"`
	StartTime    string `json:"startTime" validate:"required,timecode"`
	Duration     string `json:"duration" validate:"required,timecode"`
	OutputFormat string `json:"outputFormat" validate:"required,oneof=mp4 mkv webm mov"`
}

// InfoResponse wraps metadata with the job id that produced it
type InfoResponse struct {
	JobID string `json:"jobId"`
	*Metadata
}

// JobStatusResponse is the body of GET /api/jobs/:jobId
type JobStatusResponse struct {
	*Job
}

// StatsResponse is the body of GET /api/stats
type StatsResponse struct {
	Workspaces      WorkspaceStats `json:"workspaces"`
	ScratchRoot     string         `json:"scratchRoot"`
	ScratchBytes    int64          `json:"scratchBytes"`
	ScratchSize     string         `json:"scratchSize"`
	ToolSlots       int            `json:"toolSlots"`
	ToolSlotsInUse  int            `json:"toolSlotsInUse"`
	JobStoreBackend string         `json:"jobStoreBackend"`
}

// WorkspaceStats counts workspace allocations and releases
type WorkspaceStats struct {
	Allocated int64 `json:"allocated"`
	Released  int64 `json:"released"`
	Active    int64 `json:"active"`
}

// SweepResponse is the body of POST /api/cleanup
type SweepResponse struct {
	Removed    int    `json:"removed"`
	FreedBytes int64  `json:"freedBytes"`
	Freed      string `json:"freed"`
	Skipped    int    `json:"skipped"`
}
