package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mediapro/api/internal/config"
	"github.com/mediapro/api/internal/logging"
	"github.com/mediapro/api/internal/server"
	"github.com/mediapro/api/internal/service"
	"github.com/mediapro/api/internal/tool"
	ws "github.com/mediapro/api/internal/websocket"
	"github.com/mediapro/api/internal/workspace"
)

const metadataJSON = `{
  "title": "Big Buck Bunny",
  "duration": 596.5,
  "uploader": "Blender",
  "extractor_key": "Youtube",
  "ext": "mp4",
  "formats": [
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "filesize": 9437184},
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "height": 360}
  ],
  "subtitles": {"en": [{"ext": "vtt", "name": "English"}]}
}`

// fakeYtDlp answers --version and --dump-json, streams bytes for "-o -" and
// otherwise writes media.mp4 from the output template. URLs containing
// "unavailable" fail like a removed video.
const fakeYtDlp = `echo "yt-dlp $*" >> "@LOG@"
if [ "$1" = "--version" ]; then echo "2024.08.06"; exit 0; fi
out=""; prev=""; url=""; mode=file
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  if [ "$a" = "--dump-json" ]; then mode=json; fi
  prev="$a"; url="$a"
done
case "$url" in
  *unavailable*) echo "ERROR: [youtube] abc: Video unavailable" >&2; exit 1 ;;
esac
if [ "$mode" = json ]; then
  cat <<'EOF'
@META@
EOF
  exit 0
fi
if [ "$out" = "-" ]; then printf 'fake-audio-stream'; exit 0; fi
file=$(printf '%s' "$out" | sed 's/%(ext)s$/mp4/')
printf 'fake-media-file' > "$file"
echo "[download]  50.0% of 10.00MiB"
echo "[download] 100.0% of 10.00MiB"
printf '%s\t%s\n' "$file" "Big Buck Bunny"
`

// fakeFFmpeg prefixes its input with "converted:" and writes it to the last
// argument.
const fakeFFmpeg = `echo "ffmpeg $*" >> "@LOG@"
if [ "$1" = "-version" ]; then echo "ffmpeg version 6.1.1 Copyright (c) 2000-2023"; exit 0; fi
in=""; prev=""; out=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"; out="$a"
done
if [ "$in" = "pipe:0" ]; then
  { printf 'converted:'; cat; } > "$out"
else
  { printf 'converted:'; cat "$in"; } > "$out"
fi
echo "out_time_ms=1000000"
echo "progress=end"
`

// crashingFFmpeg drains its input and dies without producing output.
const crashingFFmpeg = `echo "ffmpeg $*" >> "@LOG@"
if [ "$1" = "-version" ]; then echo "ffmpeg version 6.1.1 Copyright (c) 2000-2023"; exit 0; fi
cat > /dev/null
echo "Conversion failed!" >&2
exit 1
`

// testApp holds the app and the pieces the scenarios inspect
type testApp struct {
	app        *fiber.App
	workspaces *workspace.Manager
	root       string
	callLog    string
}

type appOptions struct {
	ffmpegScript string
}

// setupApp builds the same app as the serve command, with yt-dlp and ffmpeg
// replaced by shell scripts and Redis disabled.
func setupApp(t *testing.T) *testApp {
	return setupAppWith(t, appOptions{})
}

func setupAppWith(t *testing.T, opts appOptions) *testApp {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tool fakes require a POSIX shell")
	}

	binDir := t.TempDir()
	callLog := filepath.Join(binDir, "calls.log")
	if opts.ffmpegScript == "" {
		opts.ffmpegScript = fakeFFmpeg
	}
	ytdlpPath := writeTool(t, binDir, "yt-dlp", strings.ReplaceAll(fakeYtDlp, "@META@", metadataJSON), callLog)
	ffmpegPath := writeTool(t, binDir, "ffmpeg", opts.ffmpegScript, callLog)

	cfg := &config.Config{
		Server:    config.ServerConfig{Env: "test", BodyLimit: 1024 * 1024},
		RateLimit: config.RateLimitConfig{InfoPerMin: 10000, JobsPerHour: 10000},
		Tools: config.ToolsConfig{
			YtDlpPath:        ytdlpPath,
			FFmpegPath:       ffmpegPath,
			MetadataTimeout:  10 * time.Second,
			FetchTimeout:     10 * time.Second,
			TranscodeTimeout: 10 * time.Second,
			MaxConcurrent:    4,
		},
		Workspace: config.WorkspaceConfig{
			Root:         filepath.Join(t.TempDir(), "scratch"),
			CleanupDelay: time.Minute,
			MaxAge:       time.Hour,
		},
		Jobs: config.JobsConfig{RecordTTL: time.Hour},
	}

	logger := logging.Discard()
	workspaces, err := workspace.NewManager(workspace.Options{Root: cfg.Workspace.Root, Logger: logger})
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	t.Cleanup(workspaces.Close)

	limiter := tool.NewLimiter(cfg.Tools.MaxConcurrent)
	ytdlp := tool.NewYtDlp(tool.YtDlpConfig{
		Path:            cfg.Tools.YtDlpPath,
		MetadataTimeout: cfg.Tools.MetadataTimeout,
		FetchTimeout:    cfg.Tools.FetchTimeout,
	}, limiter, logger)
	ffmpeg := tool.NewFFmpeg(tool.FFmpegConfig{
		Path:    cfg.Tools.FFmpegPath,
		Timeout: cfg.Tools.TranscodeTimeout,
	}, limiter, logger)
	store := service.NewMemoryJobStore(cfg.Jobs.RecordTTL)

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	t.Cleanup(cancel)

	jobs := service.NewJobService(service.JobServiceOptions{
		Fetcher:      service.NewFetcher(ytdlp),
		Transcoder:   ffmpeg,
		Workspaces:   workspaces,
		Limiter:      limiter,
		Store:        store,
		Notifier:     hub,
		CleanupDelay: cfg.Workspace.CleanupDelay,
		Logger:       logger,
	})
	system := service.NewSystemService(service.SystemServiceOptions{
		Workspaces:   workspaces,
		Limiter:      limiter,
		Store:        store,
		Requirements: tool.Requirements(ytdlpPath, ffmpegPath),
		SweepMaxAge:  cfg.Workspace.MaxAge,
	})

	app := server.New(server.Deps{
		Config: cfg,
		Jobs:   jobs,
		System: system,
		Hub:    hub,
		Logger: logger,
	})

	return &testApp{
		app:        app,
		workspaces: workspaces,
		root:       workspaces.Root(),
		callLog:    callLog,
	}
}

func writeTool(t *testing.T, dir, name, body, callLog string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + strings.ReplaceAll(body, "@LOG@", callLog)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// toolCalls returns one line per tool invocation, version probes excluded.
func (ta *testApp) toolCalls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(ta.callLog)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read call log: %v", err)
	}
	var calls []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" || strings.HasSuffix(line, "version") {
			continue
		}
		calls = append(calls, line)
	}
	return calls
}

// scratchEntries lists the workspaces left under the scratch root.
func (ta *testApp) scratchEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(ta.root)
	if err != nil {
		t.Fatalf("failed to read scratch root: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

// assertReleased checks that every allocated workspace has been removed.
func (ta *testApp) assertReleased(t *testing.T, allocated int64) {
	t.Helper()
	stats := ta.workspaces.Stats()
	if stats.Allocated != allocated || stats.Released != allocated || stats.Active != 0 {
		t.Errorf("expected %d allocated and released, got %+v", allocated, stats)
	}
	if left := ta.scratchEntries(t); len(left) != 0 {
		t.Errorf("expected empty scratch root, found %v", left)
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	detail, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", body)
	}
	code, _ := detail["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
