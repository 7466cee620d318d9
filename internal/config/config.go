package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every tunable the worker pool and API surface need at boot.
// Loaded from environment variables (via godotenv, like the upstream service
// this was adapted from) layered over an optional config.yaml read by viper —
// environment variables, including those loaded from .env, override values
// from config.yaml on conflict.
type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // empty = no auth, dev mode
	CorsAllowedOrigins string

	// Database
	DatabaseURL string

	// Redis (durable job queue, §4.M)
	RedisURL string

	// Blob store (object storage adapter, §4.A)
	BlobStoreURL        string
	BlobStoreServiceKey string
	BlobStoreBucket     string

	// Transcriber (§4.D)
	OpenAIKey string

	// Vision Moderator (§4.H)
	GeminiKey string

	// Clip search (§4.G)
	ClipSearchAPIKey  string
	ClipSearchBaseURL string
	ClipSearchRPS     float64 // token-bucket rate limit against the external search API

	// Pre-normalized local clip pool (§4.G resolution order step 1)
	ClipPoolDir string

	// Content-addressed local clip cache (§4.G resolution order step 2)
	ClipCacheDir string

	// Orchestrator scratch space — per-job working directories live under
	// here until the job finishes or fails (§4.L, §9 reaper cleanup)
	ScratchRoot string

	// Worker pool
	WorkerConcurrency     int
	HeartbeatInterval     time.Duration
	ReaperStaleAfter      time.Duration
	JobHardDeadline       time.Duration

	// Quota
	DefaultWeeklyCredits int

	// Moderation cache TTL
	ModerationCacheTTL time.Duration
}

// Load reads environment variables (optionally preceded by a .env file) and
// an optional config.yaml in the working directory, validates the fields the
// pipeline cannot run without, and returns a populated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.ReadInConfig() // optional; absence is not an error

	setDefaults(v)

	cfg := &Config{
		APIPort:            v.GetString("api_port"),
		BackendAPIKey:      v.GetString("backend_api_key"),
		CorsAllowedOrigins: v.GetString("cors_allowed_origins"),
		DatabaseURL:        v.GetString("database_url"),
		RedisURL:           v.GetString("redis_url"),

		BlobStoreURL:        v.GetString("blob_store_url"),
		BlobStoreServiceKey: v.GetString("blob_store_service_key"),
		BlobStoreBucket:     v.GetString("blob_store_bucket"),

		OpenAIKey: v.GetString("openai_api_key"),
		GeminiKey: v.GetString("gemini_api_key"),

		ClipSearchAPIKey:  v.GetString("clip_search_api_key"),
		ClipSearchBaseURL: v.GetString("clip_search_base_url"),
		ClipSearchRPS:     v.GetFloat64("clip_search_rps"),

		ClipPoolDir:  v.GetString("clip_pool_dir"),
		ClipCacheDir: v.GetString("clip_cache_dir"),
		ScratchRoot:  v.GetString("scratch_root"),

		WorkerConcurrency: v.GetInt("worker_concurrency"),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		ReaperStaleAfter:  v.GetDuration("reaper_stale_after"),
		JobHardDeadline:   v.GetDuration("job_hard_deadline"),

		DefaultWeeklyCredits: v.GetInt("default_weekly_credits"),
		ModerationCacheTTL:   v.GetDuration("moderation_cache_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_port", "8080")
	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("blob_store_bucket", "reelforge-videos")
	v.SetDefault("clip_search_base_url", "https://api.clipsearch.example/v1")
	v.SetDefault("clip_search_rps", 2.0)
	v.SetDefault("clip_pool_dir", "assets/clip-pool")
	v.SetDefault("clip_cache_dir", "/tmp/reelforge-clip-cache")
	v.SetDefault("scratch_root", "/tmp/reelforge-scratch")
	v.SetDefault("worker_concurrency", 2)
	v.SetDefault("heartbeat_interval", 15*time.Second)
	v.SetDefault("reaper_stale_after", 10*time.Minute)
	v.SetDefault("job_hard_deadline", 45*time.Minute)
	v.SetDefault("default_weekly_credits", 3)
	v.SetDefault("moderation_cache_ttl", 24*time.Hour)
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.GeminiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.ClipSearchAPIKey == "" {
		return fmt.Errorf("CLIP_SEARCH_API_KEY is required")
	}
	if c.BlobStoreURL == "" || c.BlobStoreServiceKey == "" {
		return fmt.Errorf("BLOB_STORE_URL and BLOB_STORE_SERVICE_KEY are required")
	}
	return nil
}
