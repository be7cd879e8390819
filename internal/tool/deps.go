package tool

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external binary the service relies on.
type Requirement struct {
	Name        string
	Command     string
	VersionArg  string
	Description string
	Optional    bool
}

// Status reports the availability of a binary.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements returns the binaries needed by the adapters.
func Requirements(ytdlpPath, ffmpegPath string) []Requirement {
	return []Requirement{
		{Name: "yt-dlp", Command: ytdlpPath, VersionArg: "--version", Description: "media fetcher"},
		{Name: "ffmpeg", Command: ffmpegPath, VersionArg: "-version", Description: "media transcoder"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		if req.VersionArg != "" {
			version, err := toolVersion(ctx, cmd, req.VersionArg)
			if err != nil {
				status.Detail = fmt.Sprintf("version check failed: %v", err)
			} else {
				status.Version = version
			}
		}
		results = append(results, status)
	}
	return results
}
