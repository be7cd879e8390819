package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mediapro/api/internal/model"
)

// TranscodeRequest describes one ffmpeg run. Exactly one of InputPath and
// Input must be set.
type TranscodeRequest struct {
	InputPath  string
	Input      io.Reader
	OutputPath string
	Muxer      string
	AudioCodec string
	VideoCodec string
	NoVideo    bool
	Trim       *model.TrimWindow
	// Duration of the input in seconds, used to turn timestamps into percent.
	Duration float64
	Progress func(percent float64)
}

// FFmpegConfig configures the transcode tool adapter.
type FFmpegConfig struct {
	Path    string
	Timeout time.Duration
}

// FFmpeg drives the ffmpeg binary.
type FFmpeg struct {
	cfg     FFmpegConfig
	limiter *Limiter
	logger  *slog.Logger
}

func NewFFmpeg(cfg FFmpegConfig, limiter *Limiter, logger *slog.Logger) *FFmpeg {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With("component", "ffmpeg"),
	}
}

// Transcode runs ffmpeg once and resolves to a single outcome. A failed run
// removes its partial output.
func (f *FFmpeg) Transcode(ctx context.Context, req TranscodeRequest) error {
	if (req.InputPath == "") == (req.Input == nil) {
		return &TranscodeError{Err: errors.New("exactly one input source required")}
	}
	if req.OutputPath == "" {
		return &TranscodeError{Err: errors.New("output path required")}
	}

	release, err := f.limiter.slot(ctx)
	if err != nil {
		return &TranscodeError{Err: err}
	}
	defer release()

	ctx, cancel := withTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	args := f.BuildArgs(req)
	cmd := exec.CommandContext(ctx, f.cfg.Path, args...)
	cmd.WaitDelay = waitDelay
	stderr := newTailBuffer()
	cmd.Stderr = stderr
	if req.Input != nil {
		cmd.Stdin = req.Input
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TranscodeError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	f.logger.Debug("transcoding", "output", req.OutputPath, "muxer", req.Muxer)
	if err := cmd.Start(); err != nil {
		return &TranscodeError{Err: fmt.Errorf("start: %w", err)}
	}

	duration := req.Duration
	if req.Trim != nil && req.Trim.Duration > 0 {
		duration = req.Trim.Duration
	}
	_ = scanLines(stdout, progressConsumer(duration, req.Progress))

	if err := cmd.Wait(); err != nil {
		f.removePartial(req.OutputPath)
		return &TranscodeError{Stderr: stderr.String(), Err: ctxErr(ctx, err)}
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		f.removePartial(req.OutputPath)
		return &TranscodeError{Stderr: stderr.String(), Err: errEmptyOutput}
	}
	if req.Progress != nil {
		req.Progress(100)
	}
	return nil
}

// BuildArgs returns the ffmpeg arguments for req.
func (f *FFmpeg) BuildArgs(req TranscodeRequest) []string {
	args := []string{"-hide_banner", "-y"}
	input := req.InputPath
	if req.Input != nil {
		input = "pipe:0"
	} else {
		args = append(args, "-nostdin")
	}
	if req.Trim != nil && req.Trim.Start > 0 {
		args = append(args, "-ss", FormatSeconds(req.Trim.Start))
	}
	args = append(args, "-i", input)
	if req.Trim != nil && req.Trim.Duration > 0 {
		args = append(args, "-t", FormatSeconds(req.Trim.Duration))
	}
	if req.NoVideo {
		args = append(args, "-vn")
	}
	if req.AudioCodec != "" {
		args = append(args, "-c:a", req.AudioCodec)
	}
	if req.VideoCodec != "" {
		args = append(args, "-c:v", req.VideoCodec)
	}
	if req.Muxer != "" {
		args = append(args, "-f", req.Muxer)
	}
	args = append(args, "-progress", "pipe:1", "-nostats", req.OutputPath)
	return args
}

// Version returns the first line of ffmpeg -version.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	return toolVersion(ctx, f.cfg.Path, "-version")
}

func (f *FFmpeg) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("failed to remove partial output", "path", path, "error", err)
	}
}

// progressConsumer turns ffmpeg -progress key=value lines into percentages.
// out_time_us and out_time_ms both carry microseconds.
func progressConsumer(duration float64, report func(float64)) func(string) {
	last := -1.0
	return func(line string) {
		if report == nil || duration <= 0 {
			return
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return
		}
		switch key {
		case "out_time_us", "out_time_ms":
			us, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return
			}
			pct := math.Min(100, math.Max(0, us/1e6/duration*100))
			if pct-last >= 1 {
				last = pct
				report(math.Floor(pct))
			}
		}
	}
}
