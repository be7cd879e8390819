package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mediapro/api/internal/model"
)

// MediaBaseName is the file stem used for fetched media inside a workspace.
const MediaBaseName = "media"

// afterMoveSeparator splits the final path from the title in the line
// printed once yt-dlp has moved the file into place.
const afterMoveSeparator = "\t"

var downloadProgressRe = regexp.MustCompile(`^\[download\]\s+([\d.]+)%`)

// FetchOptions controls a file-mode fetch.
type FetchOptions struct {
	Dir               string
	Container         string
	EmbedSubtitles    bool
	SubtitleLanguages []string
	AutoSubtitles     bool
	Progress          func(percent float64)
}

// YtDlpConfig configures the fetch tool adapter.
type YtDlpConfig struct {
	Path            string
	MetadataTimeout time.Duration
	FetchTimeout    time.Duration
}

// YtDlp drives the yt-dlp binary.
type YtDlp struct {
	cfg     YtDlpConfig
	limiter *Limiter
	logger  *slog.Logger
}

func NewYtDlp(cfg YtDlpConfig, limiter *Limiter, logger *slog.Logger) *YtDlp {
	if cfg.Path == "" {
		cfg.Path = "yt-dlp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YtDlp{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With("component", "yt-dlp"),
	}
}

// FetchMetadata runs yt-dlp --dump-json for url.
func (y *YtDlp) FetchMetadata(ctx context.Context, url string) (*model.Metadata, error) {
	release, err := y.limiter.slot(ctx)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer release()

	ctx, cancel := withTimeout(ctx, y.cfg.MetadataTimeout)
	defer cancel()

	args := []string{"--dump-json", "--no-warnings", "--no-playlist", "--skip-download", "--", url}
	cmd := exec.CommandContext(ctx, y.cfg.Path, args...)
	cmd.WaitDelay = waitDelay
	var stdout bytes.Buffer
	stderr := newTailBuffer()
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	y.logger.Debug("fetching metadata", "url", url)
	if err := cmd.Run(); err != nil {
		return nil, &FetchError{URL: url, Stderr: stderr.String(), Err: ctxErr(ctx, err)}
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, &FetchError{URL: url, Stderr: stderr.String(), Err: fmt.Errorf("decode metadata: %w", err)}
	}
	return info.toMetadata(), nil
}

// FetchMedia downloads url into opts.Dir and returns the produced file.
func (y *YtDlp) FetchMedia(ctx context.Context, url, selector string, opts FetchOptions) (*model.Artifact, error) {
	if opts.Dir == "" {
		return nil, &FetchError{URL: url, Err: errors.New("no target directory")}
	}
	release, err := y.limiter.slot(ctx)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer release()

	ctx, cancel := withTimeout(ctx, y.cfg.FetchTimeout)
	defer cancel()

	args := y.BuildFetchArgs(url, selector, opts)
	cmd := exec.CommandContext(ctx, y.cfg.Path, args...)
	cmd.WaitDelay = waitDelay
	stderr := newTailBuffer()
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	y.logger.Debug("fetching media", "url", url, "selector", selector, "dir", opts.Dir)
	if err := cmd.Start(); err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("start: %w", err)}
	}

	var printed, title string
	_ = scanLines(stdout, func(line string) {
		if m := downloadProgressRe.FindStringSubmatch(line); m != nil {
			if opts.Progress != nil {
				if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
					opts.Progress(pct)
				}
			}
			return
		}
		if path, t, ok := strings.Cut(line, afterMoveSeparator); ok {
			printed, title = strings.TrimSpace(path), strings.TrimSpace(t)
		}
	})

	if err := cmd.Wait(); err != nil {
		return nil, &FetchError{URL: url, Stderr: stderr.String(), Err: ctxErr(ctx, err)}
	}

	path, err := locateOutput(opts.Dir, printed)
	if err != nil {
		return nil, &FetchError{URL: url, Stderr: stderr.String(), Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	return &model.Artifact{
		Path:        path,
		Filename:    filepath.Base(path),
		Title:       title,
		ContentType: ContentTypeFor(filepath.Ext(path)),
		Size:        info.Size(),
	}, nil
}

// BuildFetchArgs returns the yt-dlp arguments for a file-mode fetch.
func (y *YtDlp) BuildFetchArgs(url, selector string, opts FetchOptions) []string {
	if selector == "" {
		selector = "best"
	}
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--progress",
		"-f", selector,
		"-o", filepath.Join(opts.Dir, MediaBaseName+".%(ext)s"),
	}
	if opts.Container != "" {
		args = append(args, "--merge-output-format", opts.Container)
	}
	if opts.EmbedSubtitles {
		args = append(args, "--write-subs", "--embed-subs")
		if langs := normalizeLanguages(opts.SubtitleLanguages); len(langs) > 0 {
			args = append(args, "--sub-langs", strings.Join(langs, ","))
		}
		if opts.AutoSubtitles {
			args = append(args, "--write-auto-subs")
		}
	}
	args = append(args, "--print", "after_move:%(filepath)s"+afterMoveSeparator+"%(title)s", "--", url)
	return args
}

// Stream is the stdout of a running pipe-mode fetch.
type Stream struct {
	URL string

	ctx     context.Context
	r       *os.File
	cmd     *exec.Cmd
	stderr  *tailBuffer
	cancel  context.CancelFunc
	release func()

	mu  sync.Mutex
	eof bool

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
	}
	return n, err
}

// Wait blocks until the process exits and returns a FetchError on failure.
func (s *Stream) Wait() error {
	s.waitOnce.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			s.waitErr = &FetchError{URL: s.URL, Stderr: s.stderr.String(), Err: ctxErr(s.ctx, err)}
		}
		s.cancel()
		s.release()
	})
	return s.waitErr
}

// Close stops the process if the stream was not read to the end and reaps it.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		eof := s.eof
		s.mu.Unlock()
		if !eof {
			s.cancel()
		}
		_ = s.r.Close()
		_ = s.Wait()
	})
	return nil
}

// FetchStream starts yt-dlp writing url to stdout. The caller must Close the
// stream; Wait reports the exit status.
func (y *YtDlp) FetchStream(ctx context.Context, url, selector string) (*Stream, error) {
	if selector == "" {
		selector = "best"
	}
	release, err := y.limiter.slot(ctx)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	ctx, cancel := withTimeout(ctx, y.cfg.FetchTimeout)

	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		release()
		return nil, &FetchError{URL: url, Err: fmt.Errorf("pipe: %w", err)}
	}

	args := []string{"--no-playlist", "--no-warnings", "--quiet", "--no-progress", "-f", selector, "-o", "-", "--", url}
	cmd := exec.CommandContext(ctx, y.cfg.Path, args...)
	cmd.WaitDelay = waitDelay
	stderr := newTailBuffer()
	cmd.Stdout = pw
	cmd.Stderr = stderr

	y.logger.Debug("streaming media", "url", url, "selector", selector)
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		cancel()
		release()
		return nil, &FetchError{URL: url, Err: fmt.Errorf("start: %w", err)}
	}
	_ = pw.Close()

	return &Stream{
		URL:     url,
		ctx:     ctx,
		r:       pr,
		cmd:     cmd,
		stderr:  stderr,
		cancel:  cancel,
		release: release,
	}, nil
}

// Version returns the first line of yt-dlp --version.
func (y *YtDlp) Version(ctx context.Context) (string, error) {
	return toolVersion(ctx, y.cfg.Path, "--version")
}

func locateOutput(dir, printed string) (string, error) {
	if printed != "" {
		if _, err := os.Stat(printed); err == nil {
			return printed, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(dir, MediaBaseName+".*"))
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, m := range matches {
		switch strings.ToLower(filepath.Ext(m)) {
		case ".part", ".ytdl", ".vtt", ".srt", ".ass", ".json", ".temp":
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return "", errEmptyOutput
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

func normalizeLanguages(langs []string) []string {
	seen := make(map[string]bool, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ctxErr prefers the context error when the process was killed because the
// context ended.
func ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func toolVersion(ctx context.Context, path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return "", err
	}
	return lastLine(strings.SplitN(string(out), "\n", 2)[0]), nil
}

type ytdlpInfo struct {
	Title             string                     `json:"title"`
	Duration          float64                    `json:"duration"`
	Uploader          string                     `json:"uploader"`
	Channel           string                     `json:"channel"`
	Thumbnail         string                     `json:"thumbnail"`
	WebpageURL        string                     `json:"webpage_url"`
	ExtractorKey      string                     `json:"extractor_key"`
	Ext               string                     `json:"ext"`
	Formats           []ytdlpFormat              `json:"formats"`
	Subtitles         map[string][]ytdlpSubtitle `json:"subtitles"`
	AutomaticCaptions map[string][]ytdlpSubtitle `json:"automatic_captions"`
}

type ytdlpFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	Resolution     string   `json:"resolution"`
	Height         *int     `json:"height"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	FormatNote     string   `json:"format_note"`
}

type ytdlpSubtitle struct {
	Ext  string `json:"ext"`
	Name string `json:"name"`
}

func (i *ytdlpInfo) toMetadata() *model.Metadata {
	uploader := i.Uploader
	if uploader == "" {
		uploader = i.Channel
	}
	meta := &model.Metadata{
		Title:           i.Title,
		DurationSeconds: i.Duration,
		Uploader:        uploader,
		Thumbnail:       i.Thumbnail,
		WebpageURL:      i.WebpageURL,
		Platform:        i.ExtractorKey,
		Ext:             i.Ext,
		Formats:         make([]model.Format, 0, len(i.Formats)),
		Subtitles:       make(map[string][]model.SubtitleTrack),
	}

	for _, f := range i.Formats {
		meta.Formats = append(meta.Formats, f.toFormat())
	}
	for lang, subs := range i.Subtitles {
		meta.Subtitles[lang] = append(meta.Subtitles[lang], subtitleTrack(lang, subs, false))
	}
	for lang, subs := range i.AutomaticCaptions {
		meta.Subtitles[lang] = append(meta.Subtitles[lang], subtitleTrack(lang, subs, true))
	}
	return meta
}

func (f ytdlpFormat) toFormat() model.Format {
	out := model.Format{
		FormatID:   f.FormatID,
		Container:  f.Ext,
		Resolution: f.Resolution,
		VideoCodec: codecName(f.VCodec),
		AudioCodec: codecName(f.ACodec),
		Note:       f.FormatNote,
	}
	if out.Resolution == "" && f.Height != nil {
		out.Resolution = fmt.Sprintf("%dp", *f.Height)
	}
	switch {
	case f.Filesize != nil && *f.Filesize > 0:
		out.ApproxSizeBytes = int64(*f.Filesize)
	case f.FilesizeApprox != nil && *f.FilesizeApprox > 0:
		out.ApproxSizeBytes = int64(*f.FilesizeApprox)
	}
	if out.ApproxSizeBytes > 0 {
		out.ApproxSize = humanize.Bytes(uint64(out.ApproxSizeBytes))
	}
	return out
}

func subtitleTrack(lang string, subs []ytdlpSubtitle, automatic bool) model.SubtitleTrack {
	track := model.SubtitleTrack{Name: lang, IsAutomatic: automatic}
	if len(subs) > 0 {
		if subs[0].Name != "" {
			track.Name = subs[0].Name
		}
		track.Extension = subs[0].Ext
	}
	return track
}

func codecName(c string) string {
	if c == "none" {
		return ""
	}
	return c
}
