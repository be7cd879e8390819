package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediapro/api/internal/model"
	"github.com/mediapro/api/internal/tool"
	"github.com/mediapro/api/internal/workspace"
	"github.com/mediapro/api/pkg/response"
)

type fakeStream struct {
	io.Reader
	waitErr error
	closed  atomic.Bool
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeStream) Wait() error {
	return s.waitErr
}

type fakeFetcher struct {
	meta       *model.Metadata
	metaErr    error
	mediaErr   error
	streamErr  error
	streamWait error
	payload    []byte

	metadataCalls atomic.Int32
	mediaCalls    atomic.Int32
	streamCalls   atomic.Int32

	mu       sync.Mutex
	opts     tool.FetchOptions
	selector string
	stream   *fakeStream
}

func (f *fakeFetcher) FetchMetadata(ctx context.Context, url string) (*model.Metadata, error) {
	f.metadataCalls.Add(1)
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	meta := *f.meta
	return &meta, nil
}

func (f *fakeFetcher) FetchMedia(ctx context.Context, url, selector string, opts tool.FetchOptions) (*model.Artifact, error) {
	f.mediaCalls.Add(1)
	f.mu.Lock()
	f.opts = opts
	f.selector = selector
	f.mu.Unlock()
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	if opts.Progress != nil {
		opts.Progress(50)
	}
	path := filepath.Join(opts.Dir, "media.mp4")
	if err := os.WriteFile(path, f.payload, 0o644); err != nil {
		return nil, err
	}
	return &model.Artifact{Path: path, Title: f.meta.Title, ContentType: "video/mp4"}, nil
}

func (f *fakeFetcher) FetchStream(ctx context.Context, url, selector string) (MediaStream, error) {
	f.streamCalls.Add(1)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	s := &fakeStream{Reader: bytes.NewReader(f.payload), waitErr: f.streamWait}
	f.mu.Lock()
	f.selector = selector
	f.stream = s
	f.mu.Unlock()
	return s, nil
}

type fakeTranscoder struct {
	err   error
	calls atomic.Int32

	mu  sync.Mutex
	req tool.TranscodeRequest
}

func (t *fakeTranscoder) Transcode(ctx context.Context, req tool.TranscodeRequest) error {
	t.calls.Add(1)
	t.mu.Lock()
	t.req = req
	t.mu.Unlock()

	var data []byte
	if req.Input != nil {
		b, err := io.ReadAll(req.Input)
		if err != nil {
			return &tool.TranscodeError{Err: err}
		}
		data = b
	} else {
		b, err := os.ReadFile(req.InputPath)
		if err != nil {
			return &tool.TranscodeError{Err: err}
		}
		data = b
	}
	if t.err != nil {
		return t.err
	}
	return os.WriteFile(req.OutputPath, append([]byte("converted:"), data...), 0o644)
}

type testDeps struct {
	svc        *JobService
	fetcher    *fakeFetcher
	transcoder *fakeTranscoder
	workspaces *workspace.Manager
	store      *MemoryJobStore
}

func newTestService(t *testing.T) *testDeps {
	t.Helper()
	m, err := workspace.NewManager(workspace.Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)

	fetcher := &fakeFetcher{
		meta: &model.Metadata{
			Title:           "Big Buck Bunny",
			DurationSeconds: 596,
			Ext:             "webm",
		},
		payload: []byte("media-bytes"),
	}
	transcoder := &fakeTranscoder{}
	store := NewMemoryJobStore(time.Hour)

	svc := NewJobService(JobServiceOptions{
		Fetcher:      fetcher,
		Transcoder:   transcoder,
		Workspaces:   m,
		Limiter:      tool.NewLimiter(4),
		Store:        store,
		CleanupDelay: time.Minute,
	})
	return &testDeps{svc: svc, fetcher: fetcher, transcoder: transcoder, workspaces: m, store: store}
}

func assertOneCleanup(t *testing.T, m *workspace.Manager, allocated int64) {
	t.Helper()
	stats := m.Stats()
	if stats.Allocated != allocated {
		t.Errorf("allocated = %d, want %d", stats.Allocated, allocated)
	}
	if stats.Released != allocated {
		t.Errorf("released = %d, want %d", stats.Released, allocated)
	}
	if stats.Active != 0 {
		t.Errorf("active = %d, want 0", stats.Active)
	}
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("workspace %s left under root", e.Name())
		}
	}
}

func assertJobState(t *testing.T, d *testDeps, jobID string, want model.JobState) *model.Job {
	t.Helper()
	job, err := d.svc.Status(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Status(%s): %v", jobID, err)
	}
	if job.State != want {
		t.Errorf("job state = %s, want %s", job.State, want)
	}
	return job
}

func TestInfo_ReturnsMetadataWithPlatform(t *testing.T) {
	d := newTestService(t)

	resp, err := d.svc.Info(context.Background(), &model.InfoRequest{URL: "https://www.youtube.com/watch?v=aqz-KE-bpKQ"})
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if resp.Title != "Big Buck Bunny" {
		t.Errorf("title = %q", resp.Title)
	}
	if resp.Platform != "YouTube" {
		t.Errorf("platform = %q, want YouTube", resp.Platform)
	}
	if d.workspaces.Stats().Allocated != 0 {
		t.Error("info must not allocate a workspace")
	}
	assertJobState(t, d, resp.JobID, model.JobStateDone)
}

func TestInfo_FetchFailure(t *testing.T) {
	d := newTestService(t)
	d.fetcher.metaErr = &tool.FetchError{URL: "https://example.com/x", Stderr: "ERROR: Unsupported URL", Err: errors.New("exit status 1")}

	_, err := d.svc.Info(context.Background(), &model.InfoRequest{URL: "https://example.com/x"})
	var fetchErr *tool.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestDownload_ReleasesWorkspaceOnceAfterDelivery(t *testing.T) {
	d := newTestService(t)

	result, err := d.svc.Download(context.Background(), &model.DownloadRequest{URL: "https://vimeo.com/1"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Filename != "Big Buck Bunny.mp4" {
		t.Errorf("filename = %q", result.Filename)
	}
	if result.Size != int64(len("media-bytes")) {
		t.Errorf("size = %d", result.Size)
	}
	if d.fetcher.selector != DefaultFormatSelector {
		t.Errorf("selector = %q, want %q", d.fetcher.selector, DefaultFormatSelector)
	}
	assertJobState(t, d, result.JobID, model.JobStateDelivering)

	result.Finish(nil)
	result.Finish(nil)

	assertOneCleanup(t, d.workspaces, 1)
	job := assertJobState(t, d, result.JobID, model.JobStateDone)
	if job.Outcome == nil || !job.Outcome.Succeeded {
		t.Errorf("outcome = %+v", job.Outcome)
	}
}

func TestDownload_SubtitleDefaults(t *testing.T) {
	d := newTestService(t)

	result, err := d.svc.Download(context.Background(), &model.DownloadRequest{
		URL:            "https://vimeo.com/1",
		EmbedSubtitles: true,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer result.Finish(nil)

	if !d.fetcher.opts.EmbedSubtitles {
		t.Error("expected subtitle embedding")
	}
	if len(d.fetcher.opts.SubtitleLanguages) != 1 || d.fetcher.opts.SubtitleLanguages[0] != "en" {
		t.Errorf("languages = %v, want [en]", d.fetcher.opts.SubtitleLanguages)
	}
}

func TestDownload_FetchFailureReleasesWorkspace(t *testing.T) {
	d := newTestService(t)
	d.fetcher.mediaErr = &tool.FetchError{URL: "https://vimeo.com/1", Stderr: "ERROR: Video unavailable", Err: errors.New("exit status 1")}

	result, err := d.svc.Download(context.Background(), &model.DownloadRequest{URL: "https://vimeo.com/1"})
	if result != nil {
		t.Fatal("expected no result")
	}
	if ErrorCode(err) != response.CodeFetchFailed {
		t.Fatalf("code = %s, err = %v", ErrorCode(err), err)
	}
	assertOneCleanup(t, d.workspaces, 1)
}

func TestDownload_DeliveryFailureMarksJobFailed(t *testing.T) {
	d := newTestService(t)

	result, err := d.svc.Download(context.Background(), &model.DownloadRequest{URL: "https://vimeo.com/1"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	result.Finish(errors.New("connection reset by peer"))

	assertOneCleanup(t, d.workspaces, 1)
	job := assertJobState(t, d, result.JobID, model.JobStateFailed)
	if job.Outcome == nil || job.Outcome.Reason == "" {
		t.Errorf("expected failure reason, got %+v", job.Outcome)
	}
}

func TestDownload_StreamRejectsMergedSelector(t *testing.T) {
	d := newTestService(t)

	_, err := d.svc.Download(context.Background(), &model.DownloadRequest{
		URL:            "https://vimeo.com/1",
		FormatSelector: "bv*+ba",
		Stream:         true,
	})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if d.fetcher.metadataCalls.Load() != 0 || d.fetcher.streamCalls.Load() != 0 {
		t.Error("no tool may run for a rejected request")
	}
}

func TestDownload_StreamMode(t *testing.T) {
	d := newTestService(t)

	result, err := d.svc.Download(context.Background(), &model.DownloadRequest{URL: "https://vimeo.com/1", Stream: true})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Stream == nil || result.Path != "" {
		t.Fatal("expected a stream result")
	}
	if result.Size != -1 {
		t.Errorf("size = %d, want -1", result.Size)
	}
	if result.Filename != "Big Buck Bunny.webm" {
		t.Errorf("filename = %q", result.Filename)
	}

	body, _ := io.ReadAll(result.Stream)
	if string(body) != "media-bytes" {
		t.Errorf("body = %q", body)
	}
	result.Finish(nil)

	if !d.fetcher.stream.closed.Load() {
		t.Error("stream not closed")
	}
	if d.workspaces.Stats().Allocated != 0 {
		t.Error("stream mode must not allocate a workspace")
	}
	assertJobState(t, d, result.JobID, model.JobStateDone)
}

func TestDownload_StreamLateFailure(t *testing.T) {
	d := newTestService(t)
	d.fetcher.streamWait = &tool.FetchError{URL: "https://vimeo.com/1", Err: errors.New("exit status 1")}

	result, err := d.svc.Download(context.Background(), &model.DownloadRequest{URL: "https://vimeo.com/1", Stream: true})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	result.Finish(nil)
	assertJobState(t, d, result.JobID, model.JobStateFailed)
}

func TestExtractAudio_UnsupportedFormatRunsNothing(t *testing.T) {
	d := newTestService(t)

	_, err := d.svc.ExtractAudio(context.Background(), &model.ExtractAudioRequest{URL: "https://vimeo.com/1", AudioFormat: "flac"})
	var unsupported *tool.UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	if ErrorCode(err) != response.CodeUnsupportedFormat {
		t.Errorf("code = %s", ErrorCode(err))
	}
	if n := d.fetcher.metadataCalls.Load() + d.fetcher.streamCalls.Load(); n != 0 {
		t.Errorf("fetcher called %d times", n)
	}
	if d.transcoder.calls.Load() != 0 {
		t.Error("transcoder called")
	}
	assertOneCleanup(t, d.workspaces, 0)
}

func TestExtractAudio_PipesStreamIntoCodec(t *testing.T) {
	tests := []struct {
		format  string
		encoder string
		muxer   string
		file    string
	}{
		{"mp3", "libmp3lame", "mp3", "Big Buck Bunny.mp3"},
		{"wav", "pcm_s16le", "wav", "Big Buck Bunny.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			d := newTestService(t)

			result, err := d.svc.ExtractAudio(context.Background(), &model.ExtractAudioRequest{URL: "https://vimeo.com/1", AudioFormat: tt.format})
			if err != nil {
				t.Fatalf("ExtractAudio: %v", err)
			}

			req := d.transcoder.req
			if req.AudioCodec != tt.encoder || req.Muxer != tt.muxer || !req.NoVideo {
				t.Errorf("transcode request = %+v", req)
			}
			if req.Duration != 596 {
				t.Errorf("duration = %v, want 596", req.Duration)
			}
			if d.fetcher.selector != audioSelector {
				t.Errorf("selector = %q", d.fetcher.selector)
			}
			if result.Filename != tt.file {
				t.Errorf("filename = %q, want %q", result.Filename, tt.file)
			}
			data, err := os.ReadFile(result.Path)
			if err != nil {
				t.Fatalf("read output: %v", err)
			}
			if string(data) != "converted:media-bytes" {
				t.Errorf("output = %q", data)
			}

			result.Finish(nil)
			assertOneCleanup(t, d.workspaces, 1)
			assertJobState(t, d, result.JobID, model.JobStateDone)
		})
	}
}

func TestExtractAudio_TranscodeFailure(t *testing.T) {
	d := newTestService(t)
	d.transcoder.err = &tool.TranscodeError{Stderr: "Conversion failed!", Err: errors.New("exit status 1")}

	_, err := d.svc.ExtractAudio(context.Background(), &model.ExtractAudioRequest{URL: "https://vimeo.com/1", AudioFormat: "mp3"})
	if ErrorCode(err) != response.CodeTranscodeFailed {
		t.Fatalf("code = %s, err = %v", ErrorCode(err), err)
	}
	if !d.fetcher.stream.closed.Load() {
		t.Error("stream not closed after failure")
	}
	assertOneCleanup(t, d.workspaces, 1)
}

func TestExtractAudio_FetchFailureWins(t *testing.T) {
	d := newTestService(t)
	d.fetcher.streamWait = &tool.FetchError{URL: "https://vimeo.com/1", Stderr: "ERROR: HTTP Error 403", Err: errors.New("exit status 1")}
	d.transcoder.err = &tool.TranscodeError{Err: context.Canceled}

	_, err := d.svc.ExtractAudio(context.Background(), &model.ExtractAudioRequest{URL: "https://vimeo.com/1", AudioFormat: "wav"})
	if ErrorCode(err) != response.CodeFetchFailed {
		t.Fatalf("code = %s, err = %v", ErrorCode(err), err)
	}
	assertOneCleanup(t, d.workspaces, 1)
}

func TestPipelineError(t *testing.T) {
	fetchErr := &tool.FetchError{Err: errors.New("exit status 1")}
	cancelledFetch := &tool.FetchError{Err: context.Canceled}
	transcodeErr := &tool.TranscodeError{Err: errors.New("exit status 1")}
	cancelledTranscode := &tool.TranscodeError{Err: context.Canceled}

	tests := []struct {
		name                    string
		first, fetch, transcode error
		want                    error
	}{
		{"fetch failed first", fetchErr, fetchErr, cancelledTranscode, fetchErr},
		{"transcoder crashed first", transcodeErr, cancelledFetch, transcodeErr, transcodeErr},
		{"cancelled side reported first", cancelledTranscode, fetchErr, cancelledTranscode, fetchErr},
		{"both cancelled", cancelledFetch, cancelledFetch, cancelledTranscode, cancelledFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipelineError(tt.first, tt.fetch, tt.transcode); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcess_TrimsAndRemovesIntermediate(t *testing.T) {
	d := newTestService(t)

	result, err := d.svc.Process(context.Background(), &model.ProcessVideoRequest{
		URL:          "https://vimeo.com/1",
		StartTime:    "00:01:30",
		Duration:     "45",
		OutputFormat: "mkv",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	req := d.transcoder.req
	if req.Trim == nil || req.Trim.Start != 90 || req.Trim.Duration != 45 {
		t.Errorf("trim = %+v", req.Trim)
	}
	if req.Muxer != "matroska" {
		t.Errorf("muxer = %q", req.Muxer)
	}
	if d.fetcher.selector != processSelector {
		t.Errorf("selector = %q", d.fetcher.selector)
	}
	if _, err := os.Stat(req.InputPath); !os.IsNotExist(err) {
		t.Errorf("intermediate download still present: %v", err)
	}
	if result.Filename != "Big Buck Bunny.mkv" {
		t.Errorf("filename = %q", result.Filename)
	}

	result.Finish(nil)
	assertOneCleanup(t, d.workspaces, 1)
}

func TestProcess_TranscodeCrash(t *testing.T) {
	d := newTestService(t)
	d.transcoder.err = &tool.TranscodeError{Stderr: "Segmentation fault", Err: errors.New("signal: segmentation fault")}

	result, err := d.svc.Process(context.Background(), &model.ProcessVideoRequest{
		URL:          "https://vimeo.com/1",
		StartTime:    "0",
		Duration:     "10",
		OutputFormat: "mp4",
	})
	if result != nil {
		t.Fatal("expected no result")
	}
	if ErrorCode(err) != response.CodeTranscodeFailed {
		t.Fatalf("code = %s, err = %v", ErrorCode(err), err)
	}
	assertOneCleanup(t, d.workspaces, 1)
}

func TestProcess_RejectsBadTrim(t *testing.T) {
	d := newTestService(t)

	for _, duration := range []string{"0", "abc"} {
		_, err := d.svc.Process(context.Background(), &model.ProcessVideoRequest{
			URL:          "https://vimeo.com/1",
			StartTime:    "0",
			Duration:     duration,
			OutputFormat: "mp4",
		})
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Errorf("duration %q: expected ValidationError, got %v", duration, err)
		}
	}
	if d.fetcher.mediaCalls.Load() != 0 {
		t.Error("fetcher called for invalid request")
	}
	assertOneCleanup(t, d.workspaces, 0)
}

func TestStatus_UnknownJob(t *testing.T) {
	d := newTestService(t)

	_, err := d.svc.Status(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
