package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port       string
	Env        string
	CORSOrigin string

	// Optional backing services
	DatabaseURL string
	RedisURL    string

	// Bearer auth for orchestrator callers; empty disables auth
	AuthSecret string

	// Object store
	StorageType       string // "gcs" | "local"
	StoragePath       string
	GCSBucket         string
	ServiceAccount    string
	PublicURLTemplate string
	StorageKeyPrefix  string

	// Upstream resolvers
	RapidAPIKey   string
	RapidAPIHost  string
	YouTubeAPIKey string

	// Pipeline budgets
	PipelineTimeout   time.Duration
	UploadTimeout     time.Duration
	UploadMaxRetries  int
	UploadBackoffBase time.Duration
	UploadBackoffMax  time.Duration
	MaxTitleLength    int

	// External tools
	FFmpegPath  string
	FFprobePath string
	YtDlpPath   string
	TempDir     string

	// Throughput
	RateLimitPerMinute int
	WorkerCount        int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	storageType := strings.ToLower(getEnvOrDefault("STORAGE_TYPE", "gcs"))
	port := getEnvOrDefault("PORT", "8080")

	// Local objects are served by this process under /files.
	urlTemplate := "https://storage.googleapis.com/{bucket}/{key}"
	if storageType == "local" {
		urlTemplate = "http://localhost:" + port + "/files/{key}"
	}

	cfg := &Config{
		Port:       port,
		Env:        getEnvOrDefault("ENV", "development"),
		CORSOrigin: getEnvOrDefault("CORS_ORIGIN", "*"),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		RedisURL:    getEnvOrDefault("REDIS_URL", ""),
		AuthSecret:  getEnvOrDefault("AUTH_SECRET", ""),

		StorageType:       storageType,
		StoragePath:       getEnvOrDefault("STORAGE_PATH", "./data"),
		GCSBucket:         getEnvOrDefault("GCS_BUCKET", ""),
		ServiceAccount:    getEnvOrDefault("GOOGLE_SERVICE_ACCOUNT", ""),
		PublicURLTemplate: getEnvOrDefault("PUBLIC_URL_TEMPLATE", urlTemplate),
		StorageKeyPrefix:  getEnvOrDefault("STORAGE_KEY_PREFIX", "videos"),

		RapidAPIKey:   getEnvOrDefault("RAPIDAPI_KEY", ""),
		RapidAPIHost:  getEnvOrDefault("RAPIDAPI_HOST", "tiktok-video-no-watermark2.p.rapidapi.com"),
		YouTubeAPIKey: getEnvOrDefault("YOUTUBE_API_KEY", ""),

		PipelineTimeout:   getEnvAsDurationOrDefault("PIPELINE_TIMEOUT", 9*time.Minute),
		UploadTimeout:     getEnvAsDurationOrDefault("UPLOAD_TIMEOUT", 2*time.Minute),
		UploadMaxRetries:  getEnvAsIntOrDefault("UPLOAD_MAX_RETRIES", 3),
		UploadBackoffBase: getEnvAsDurationOrDefault("UPLOAD_BACKOFF_BASE", 500*time.Millisecond),
		UploadBackoffMax:  getEnvAsDurationOrDefault("UPLOAD_BACKOFF_MAX", 8*time.Second),
		MaxTitleLength:    getEnvAsIntOrDefault("MAX_TITLE_LENGTH", 80),

		FFmpegPath:  getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		YtDlpPath:   getEnvOrDefault("YTDLP_PATH", "yt-dlp"),
		TempDir:     getEnvOrDefault("TEMP_DIR", os.TempDir()),

		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),
		WorkerCount:        getEnvAsIntOrDefault("WORKER_COUNT", 2),
	}

	if cfg.StorageType == "gcs" {
		cfg.GCSBucket = mustGetEnv("GCS_BUCKET")
	}

	return cfg
}

// Validate reports configuration that would make every ingest fail.
func (c *Config) Validate() error {
	var missing []string
	switch c.StorageType {
	case "gcs":
		if c.GCSBucket == "" {
			missing = append(missing, "GCS_BUCKET")
		}
	case "local":
		if c.StoragePath == "" {
			missing = append(missing, "STORAGE_PATH")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE %q (want gcs or local)", c.StorageType)
	}
	if c.PipelineTimeout <= 0 {
		missing = append(missing, "PIPELINE_TIMEOUT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go durations ("90s", "9m") or bare seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
