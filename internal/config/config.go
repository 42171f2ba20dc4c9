package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the vidprep server.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Redis    RedisConfig
	Upload   UploadConfig
	Pipeline PipelineConfig
	Whisper  WhisperConfig
	Unscreen UnscreenConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type StoreConfig struct {
	// Backend selects the job store implementation: memory or postgres.
	Backend         string
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type UploadConfig struct {
	UploadDir    string
	OutputDir    string
	MaxVideoSize int64
	Formats      []string
}

type PipelineConfig struct {
	MaxConcurrentJobs int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	StepTimeout       time.Duration
	MaxVideoDuration  time.Duration
	JobRetention      time.Duration
	SweepInterval     time.Duration
}

type WhisperConfig struct {
	APIKey      string
	Model       string
	SampleRate  int
	FFmpegPath  string
	FFprobePath string
}

type UnscreenConfig struct {
	APIKey       string
	BaseURL      string
	OutputFormat string
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VIDPREP_PORT", 8080),
			Env:  envString("VIDPREP_ENV", "development"),
		},
		Store: StoreConfig{
			Backend:         envString("STORE_BACKEND", "memory"),
			DatabaseURL:     os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Upload: UploadConfig{
			UploadDir:    envString("UPLOAD_DIR", "./uploads"),
			OutputDir:    envString("OUTPUT_DIR", "./outputs"),
			MaxVideoSize: envInt64("MAX_VIDEO_SIZE", 100<<20),
			Formats:      envList("SUPPORTED_VIDEO_FORMATS", []string{".mp4", ".mov", ".avi", ".mkv"}),
		},
		Pipeline: PipelineConfig{
			MaxConcurrentJobs: envInt("MAX_CONCURRENT_JOBS", 3),
			MaxRetries:        envInt("STEP_MAX_RETRIES", 3),
			RetryBaseDelay:    envDuration("STEP_RETRY_BASE_DELAY", 2*time.Second),
			RetryMaxDelay:     envDuration("STEP_RETRY_MAX_DELAY", 30*time.Second),
			StepTimeout:       envDuration("STEP_TIMEOUT", 5*time.Minute),
			MaxVideoDuration:  envDuration("MAX_VIDEO_DURATION", 5*time.Minute),
			JobRetention:      envDuration("JOB_RETENTION", 24*time.Hour),
			SweepInterval:     envDuration("JOB_SWEEP_INTERVAL", 10*time.Minute),
		},
		Whisper: WhisperConfig{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Model:       envString("WHISPER_MODEL", "whisper-1"),
			SampleRate:  envInt("AUDIO_SAMPLE_RATE", 16000),
			FFmpegPath:  envString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: envString("FFPROBE_PATH", "ffprobe"),
		},
		Unscreen: UnscreenConfig{
			APIKey:       os.Getenv("UNSCREEN_API_KEY"),
			BaseURL:      envString("UNSCREEN_BASE_URL", "https://api.unscreen.com/v1.0"),
			OutputFormat: envString("VIDEO_OUTPUT_FORMAT", "mp4"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres; got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Whisper.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	if c.Unscreen.APIKey == "" {
		return fmt.Errorf("UNSCREEN_API_KEY is required")
	}
	if !strings.HasPrefix(c.Unscreen.BaseURL, "http://") && !strings.HasPrefix(c.Unscreen.BaseURL, "https://") {
		return fmt.Errorf("UNSCREEN_BASE_URL must start with http:// or https://, got %q", c.Unscreen.BaseURL)
	}

	if c.Pipeline.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.Pipeline.MaxConcurrentJobs)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("STEP_MAX_RETRIES must not be negative, got %d", c.Pipeline.MaxRetries)
	}

	if c.Upload.MaxVideoSize <= 0 {
		return fmt.Errorf("MAX_VIDEO_SIZE must be positive, got %d", c.Upload.MaxVideoSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
