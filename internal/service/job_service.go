package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mediapro/api/internal/model"
	"github.com/mediapro/api/internal/textutil"
	"github.com/mediapro/api/internal/tool"
	"github.com/mediapro/api/internal/workspace"
)

const (
	DefaultFormatSelector = "best"
	audioSelector         = "bestaudio/best"
	processSelector       = "bv*+ba/b"
	defaultSubtitleLang   = "en"
)

// MediaStream is the output of a running pipe-mode fetch.
type MediaStream interface {
	io.ReadCloser
	Wait() error
}

// Fetcher retrieves metadata and media from remote sites.
type Fetcher interface {
	FetchMetadata(ctx context.Context, url string) (*model.Metadata, error)
	FetchMedia(ctx context.Context, url, selector string, opts tool.FetchOptions) (*model.Artifact, error)
	FetchStream(ctx context.Context, url, selector string) (MediaStream, error)
}

// Transcoder converts media with ffmpeg.
type Transcoder interface {
	Transcode(ctx context.Context, req tool.TranscodeRequest) error
}

type ytdlpFetcher struct {
	*tool.YtDlp
}

func (f ytdlpFetcher) FetchStream(ctx context.Context, url, selector string) (MediaStream, error) {
	s, err := f.YtDlp.FetchStream(ctx, url, selector)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewFetcher adapts the yt-dlp driver to Fetcher.
func NewFetcher(y *tool.YtDlp) Fetcher {
	return ytdlpFetcher{YtDlp: y}
}

// JobServiceOptions wires the collaborators of a JobService.
type JobServiceOptions struct {
	Fetcher      Fetcher
	Transcoder   Transcoder
	Workspaces   *workspace.Manager
	Limiter      *tool.Limiter
	Store        JobStore
	Notifier     Notifier
	CleanupDelay time.Duration
	Logger       *slog.Logger
}

// JobService runs info, download, extract-audio and process jobs.
type JobService struct {
	fetcher      Fetcher
	transcoder   Transcoder
	workspaces   *workspace.Manager
	limiter      *tool.Limiter
	store        JobStore
	notifier     Notifier
	cleanupDelay time.Duration
	logger       *slog.Logger
}

func NewJobService(opts JobServiceOptions) *JobService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryJobStore(time.Hour)
	}
	return &JobService{
		fetcher:      opts.Fetcher,
		transcoder:   opts.Transcoder,
		workspaces:   opts.Workspaces,
		limiter:      opts.Limiter,
		store:        store,
		notifier:     notifier,
		cleanupDelay: opts.CleanupDelay,
		logger:       logger.With("component", "jobs"),
	}
}

// Result is a produced artifact awaiting delivery. Exactly one of Path and
// Stream is set. Finish must be called once the transfer ends.
type Result struct {
	JobID       string
	Filename    string
	ContentType string
	Size        int64 // -1 when unknown
	Path        string
	Stream      MediaStream

	once   sync.Once
	finish func(deliveryErr error)
}

// OnFinish sets the function Finish runs.
func (r *Result) OnFinish(fn func(deliveryErr error)) {
	r.finish = fn
}

// Finish records the delivery outcome and releases the job's resources.
// Only the first call has an effect.
func (r *Result) Finish(deliveryErr error) {
	r.once.Do(func() {
		if r.finish != nil {
			r.finish(deliveryErr)
		}
	})
}

func (s *JobService) start(op model.Operation, url string, setup func(job *model.Job)) *jobRun {
	job := model.NewJob(uuid.New().String(), op, url)
	if setup != nil {
		setup(job)
	}
	r := &jobRun{
		store:    s.store,
		notifier: s.notifier,
		logger:   s.logger.With("job_id", job.ID, "operation", op),
		job:      job,
	}
	r.mu.Lock()
	snapshot, seq := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot, seq)
	r.logger.Info("job received", "url", url)
	return r
}

func (s *JobService) allocate(r *jobRun) (*workspace.Workspace, error) {
	ws, err := s.workspaces.Allocate(r.id())
	if err != nil {
		return nil, err
	}
	r.update(func(job *model.Job) { job.WorkspacePath = ws.Path })
	return ws, nil
}

func (s *JobService) release(r *jobRun, ws *workspace.Workspace) {
	if err := ws.Release(); err != nil {
		r.logger.Error("workspace cleanup failed", "path", ws.Path, "error", err)
	}
}

// Info fetches metadata for url.
func (s *JobService) Info(ctx context.Context, req *model.InfoRequest) (*model.InfoResponse, error) {
	r := s.start(model.OperationInfo, req.URL, nil)

	r.advance(model.JobStateFetching, "Fetching metadata", 10)
	meta, err := s.fetcher.FetchMetadata(ctx, req.URL)
	if err != nil {
		return nil, r.fail(err)
	}
	if platform := DetectPlatform(req.URL); platform != "" {
		meta.Platform = platform
	}

	r.complete("", "")
	return &model.InfoResponse{JobID: r.id(), Metadata: meta}, nil
}

// Download fetches media into a fresh workspace, or streams it straight
// from the fetch tool when req.Stream is set.
func (s *JobService) Download(ctx context.Context, req *model.DownloadRequest) (*Result, error) {
	selector := strings.TrimSpace(req.FormatSelector)
	if selector == "" {
		selector = DefaultFormatSelector
	}
	if req.Stream {
		return s.downloadStream(ctx, req, selector)
	}

	langs := req.SubtitleLanguages
	if req.EmbedSubtitles && len(langs) == 0 {
		langs = []string{defaultSubtitleLang}
	}

	r := s.start(model.OperationDownload, req.URL, func(job *model.Job) {
		job.Format = selector
		job.Container = req.OutputContainer
		if req.EmbedSubtitles {
			job.Subtitles = &model.Subtitles{Embed: true, Languages: langs, Automatic: req.IncludeAutoSubtitles}
		}
	})

	ws, err := s.allocate(r)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(model.JobStateFetching, "Downloading media", 0)
	artifact, err := s.fetcher.FetchMedia(ctx, req.URL, selector, tool.FetchOptions{
		Dir:               ws.Path,
		Container:         req.OutputContainer,
		EmbedSubtitles:    req.EmbedSubtitles,
		SubtitleLanguages: langs,
		AutoSubtitles:     req.IncludeAutoSubtitles,
		Progress:          r.progress(0, 95, "Downloading media"),
	})
	if err != nil {
		s.release(r, ws)
		return nil, r.fail(err)
	}

	filename := textutil.AttachmentName(artifact.Title, filepath.Ext(artifact.Path))
	return s.deliverFile(r, ws, artifact.Path, filename, artifact.ContentType)
}

func (s *JobService) downloadStream(ctx context.Context, req *model.DownloadRequest, selector string) (*Result, error) {
	if strings.Contains(selector, "+") {
		return nil, &ValidationError{Field: "formatSelector", Message: "merged formats cannot be streamed"}
	}

	r := s.start(model.OperationDownload, req.URL, func(job *model.Job) { job.Format = selector })

	r.advance(model.JobStateFetching, "Fetching metadata", 5)
	meta, err := s.fetcher.FetchMetadata(ctx, req.URL)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(model.JobStateFetching, "Streaming media", 10)
	stream, err := s.fetcher.FetchStream(ctx, req.URL, selector)
	if err != nil {
		return nil, r.fail(err)
	}

	ext := meta.Ext
	if ext == "" {
		ext = "bin"
	}
	filename := textutil.AttachmentName(meta.Title, ext)
	r.advance(model.JobStateDelivering, "Delivering", 10)

	return &Result{
		JobID:       r.id(),
		Filename:    filename,
		ContentType: tool.ContentTypeFor(ext),
		Size:        -1,
		Stream:      stream,
		finish: func(deliveryErr error) {
			_ = stream.Close()
			waitErr := stream.Wait()
			switch {
			case deliveryErr != nil:
				r.fail(&DeliveryError{JobID: r.id(), Err: deliveryErr})
			case waitErr != nil:
				r.fail(waitErr)
			default:
				r.complete("", filename)
			}
		},
	}, nil
}

// ExtractAudio pipes the fetch tool into the transcoder and produces an
// audio file in the requested format.
func (s *JobService) ExtractAudio(ctx context.Context, req *model.ExtractAudioRequest) (*Result, error) {
	codec, err := tool.ResolveAudioCodec(req.AudioFormat)
	if err != nil {
		return nil, err
	}

	r := s.start(model.OperationExtractAudio, req.URL, func(job *model.Job) { job.Format = codec.Format })

	r.advance(model.JobStateFetching, "Fetching metadata", 5)
	meta, err := s.fetcher.FetchMetadata(ctx, req.URL)
	if err != nil {
		return nil, r.fail(err)
	}

	ws, err := s.allocate(r)
	if err != nil {
		return nil, r.fail(err)
	}

	// Both processes of the pipeline run at once, so take both slots together.
	pctx, releaseSlots, err := s.limiter.Acquire(ctx, 2)
	if err != nil {
		s.release(r, ws)
		return nil, r.fail(&tool.FetchError{URL: req.URL, Err: err})
	}
	defer releaseSlots()

	r.advance(model.JobStateFetching, "Streaming audio", 10)
	g, gctx := errgroup.WithContext(pctx)
	stream, err := s.fetcher.FetchStream(gctx, req.URL, audioSelector)
	if err != nil {
		s.release(r, ws)
		return nil, r.fail(err)
	}
	defer stream.Close()

	output := ws.File("audio." + codec.Extension)
	r.advance(model.JobStateTranscoding, "Converting audio", 10)

	var fetchErr, transcodeErr error
	g.Go(func() error {
		transcodeErr = s.transcoder.Transcode(gctx, tool.TranscodeRequest{
			Input:      stream,
			OutputPath: output,
			Muxer:      codec.Muxer,
			AudioCodec: codec.Encoder,
			NoVideo:    true,
			Duration:   meta.DurationSeconds,
			Progress:   r.progress(10, 95, "Converting audio"),
		})
		return transcodeErr
	})
	g.Go(func() error {
		fetchErr = stream.Wait()
		return fetchErr
	})
	if err := g.Wait(); err != nil {
		s.release(r, ws)
		return nil, r.fail(pipelineError(err, fetchErr, transcodeErr))
	}

	filename := textutil.AttachmentName(meta.Title, codec.Extension)
	return s.deliverFile(r, ws, output, filename, codec.ContentType)
}

// pipelineError picks the root cause of a failed fetch-to-transcode pipe.
// first is the error that stopped the group; a side killed because the
// other one failed reports a cancellation and is not the cause.
func pipelineError(first, fetchErr, transcodeErr error) error {
	if !errors.Is(first, context.Canceled) {
		return first
	}
	for _, err := range []error{fetchErr, transcodeErr} {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return first
}

// Process downloads media, trims it and converts it to the output container.
func (s *JobService) Process(ctx context.Context, req *model.ProcessVideoRequest) (*Result, error) {
	container, err := tool.ResolveVideoContainer(req.OutputFormat)
	if err != nil {
		return nil, err
	}
	trim, err := parseTrim(req.StartTime, req.Duration)
	if err != nil {
		return nil, err
	}

	r := s.start(model.OperationProcess, req.URL, func(job *model.Job) {
		job.Format = processSelector
		job.Container = container.Format
		job.Trim = trim
	})

	ws, err := s.allocate(r)
	if err != nil {
		return nil, r.fail(err)
	}

	r.advance(model.JobStateFetching, "Downloading media", 0)
	artifact, err := s.fetcher.FetchMedia(ctx, req.URL, processSelector, tool.FetchOptions{
		Dir:      ws.Path,
		Progress: r.progress(0, 60, "Downloading media"),
	})
	if err != nil {
		s.release(r, ws)
		return nil, r.fail(err)
	}

	output := ws.File("output." + container.Format)
	r.advance(model.JobStateTranscoding, "Processing video", 60)
	err = s.transcoder.Transcode(ctx, tool.TranscodeRequest{
		InputPath:  artifact.Path,
		OutputPath: output,
		Muxer:      container.Muxer,
		Trim:       trim,
		Progress:   r.progress(60, 95, "Processing video"),
	})
	if err != nil {
		s.release(r, ws)
		return nil, r.fail(err)
	}
	if err := os.Remove(artifact.Path); err != nil {
		r.logger.Warn("failed to remove intermediate download", "path", artifact.Path, "error", err)
	}

	filename := textutil.AttachmentName(artifact.Title, container.Format)
	return s.deliverFile(r, ws, output, filename, container.ContentType)
}

func parseTrim(start, duration string) (*model.TrimWindow, error) {
	startSec, err := tool.ParseTimecode(start)
	if err != nil {
		return nil, &ValidationError{Field: "startTime", Message: err.Error()}
	}
	durationSec, err := tool.ParseTimecode(duration)
	if err != nil {
		return nil, &ValidationError{Field: "duration", Message: err.Error()}
	}
	if durationSec <= 0 {
		return nil, &ValidationError{Field: "duration", Message: "duration must be positive"}
	}
	return &model.TrimWindow{Start: startSec, Duration: durationSec}, nil
}

// deliverFile hands a finished artifact to delivery. The grace-period
// cleanup is armed here; Finish releases the workspace as soon as the
// transfer ends, whichever comes first.
func (s *JobService) deliverFile(r *jobRun, ws *workspace.Workspace, path, filename, contentType string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		s.release(r, ws)
		return nil, r.fail(&workspace.Error{Op: "stat", Path: path, Err: err})
	}

	r.advance(model.JobStateDelivering, "Delivering", 95)
	ws.ScheduleCleanup(s.cleanupDelay)

	return &Result{
		JobID:       r.id(),
		Filename:    filename,
		ContentType: contentType,
		Size:        info.Size(),
		Path:        path,
		finish: func(deliveryErr error) {
			if deliveryErr != nil {
				r.fail(&DeliveryError{JobID: r.id(), Err: deliveryErr})
			} else {
				r.complete(path, filename)
			}
			s.release(r, ws)
		},
	}, nil
}

// Status returns the recorded state of a job.
func (s *JobService) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}
