package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Tools     ToolsConfig
	Workspace WorkspaceConfig
	Jobs      JobsConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string // text or json
	BodyLimit int    // bytes
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	InfoPerMin  int
	JobsPerHour int
}

type ToolsConfig struct {
	YtDlpPath        string
	FFmpegPath       string
	MetadataTimeout  time.Duration
	FetchTimeout     time.Duration
	TranscodeTimeout time.Duration
	MaxConcurrent    int
}

type WorkspaceConfig struct {
	Root         string
	CleanupDelay time.Duration
	MaxAge       time.Duration
	SweepOnStart bool
}

type JobsConfig struct {
	RecordTTL time.Duration
}

// Load reads configuration from config.yaml (optional), environment
// variables and defaults. A non-empty path overrides the config file lookup.
func Load(path string) (*Config, error) {
	readSecret("REDIS_PASSWORD")

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("server.body_limit", "BODY_LIMIT")
	_ = v.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("ratelimit.info_per_min", "RATELIMIT_INFO_PER_MIN")
	_ = v.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = v.BindEnv("tools.ytdlp_path", "YTDLP_PATH")
	_ = v.BindEnv("tools.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("tools.metadata_timeout", "METADATA_TIMEOUT")
	_ = v.BindEnv("tools.fetch_timeout", "FETCH_TIMEOUT")
	_ = v.BindEnv("tools.transcode_timeout", "TRANSCODE_TIMEOUT")
	_ = v.BindEnv("tools.max_concurrent", "TOOLS_MAX_CONCURRENT")
	_ = v.BindEnv("workspace.root", "SCRATCH_ROOT")
	_ = v.BindEnv("workspace.cleanup_delay", "CLEANUP_DELAY")
	_ = v.BindEnv("workspace.max_age", "WORKSPACE_MAX_AGE")
	_ = v.BindEnv("workspace.sweep_on_start", "SWEEP_ON_START")
	_ = v.BindEnv("jobs.record_ttl", "JOB_RECORD_TTL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "text")
	v.SetDefault("server.body_limit", 1024*1024)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.info_per_min", 60)
	v.SetDefault("ratelimit.jobs_per_hour", 30)

	// Tool defaults
	v.SetDefault("tools.ytdlp_path", "yt-dlp")
	v.SetDefault("tools.ffmpeg_path", "ffmpeg")
	v.SetDefault("tools.metadata_timeout", "1m")
	v.SetDefault("tools.fetch_timeout", "30m")
	v.SetDefault("tools.transcode_timeout", "30m")
	v.SetDefault("tools.max_concurrent", 2*runtime.NumCPU())

	// Workspace defaults
	v.SetDefault("workspace.root", filepath.Join(os.TempDir(), "mediapro"))
	v.SetDefault("workspace.cleanup_delay", "5m")
	v.SetDefault("workspace.max_age", "24h")
	v.SetDefault("workspace.sweep_on_start", true)

	v.SetDefault("jobs.record_ttl", "1h")

	// Try to read config file (optional unless given explicitly)
	if err := v.ReadInConfig(); err != nil && path != "" {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
			BodyLimit: v.GetInt("server.body_limit"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			InfoPerMin:  v.GetInt("ratelimit.info_per_min"),
			JobsPerHour: v.GetInt("ratelimit.jobs_per_hour"),
		},
		Tools: ToolsConfig{
			YtDlpPath:        v.GetString("tools.ytdlp_path"),
			FFmpegPath:       v.GetString("tools.ffmpeg_path"),
			MetadataTimeout:  v.GetDuration("tools.metadata_timeout"),
			FetchTimeout:     v.GetDuration("tools.fetch_timeout"),
			TranscodeTimeout: v.GetDuration("tools.transcode_timeout"),
			MaxConcurrent:    v.GetInt("tools.max_concurrent"),
		},
		Workspace: WorkspaceConfig{
			Root:         v.GetString("workspace.root"),
			CleanupDelay: v.GetDuration("workspace.cleanup_delay"),
			MaxAge:       v.GetDuration("workspace.max_age"),
			SweepOnStart: v.GetBool("workspace.sweep_on_start"),
		},
		Jobs: JobsConfig{
			RecordTTL: v.GetDuration("jobs.record_ttl"),
		},
	}

	if cfg.Tools.MaxConcurrent < 1 {
		cfg.Tools.MaxConcurrent = 1
	}

	return cfg, nil
}
