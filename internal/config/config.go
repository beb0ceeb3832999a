package config

import (
	"fmt"
	"time"

	"github.com/bobarin/scenereel/internal/models"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string `env:"API_PORT" envDefault:"8080"`
	WorkerEnabled      bool   `env:"WORKER_ENABLED" envDefault:"true"`
	BackendAPIKey      string `env:"BACKEND_API_KEY"`      // empty = no auth, dev mode
	CorsAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"` // comma-separated, empty = *

	// Database (empty = in-memory store)
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis (empty = in-process queue)
	RedisURL string `env:"REDIS_URL"`

	// Supabase publishing, optional
	SupabaseURL           string `env:"SUPABASE_URL"`
	SupabaseServiceKey    string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseStorageBucket string `env:"SUPABASE_STORAGE_BUCKET" envDefault:"renders"`

	// Artifacts
	OutputDir     string `env:"OUTPUT_DIR" envDefault:"uploads/videos"`
	TempDir       string `env:"TEMP_DIR" envDefault:"/tmp/scenereel"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	// Fonts
	FontsDir            string        `env:"FONTS_DIR" envDefault:"fonts"`
	DefaultFontFamily   string        `env:"DEFAULT_FONT_FAMILY" envDefault:"Inter"`
	DefaultFontFile     string        `env:"DEFAULT_FONT_FILE" envDefault:"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf"`
	DefaultBoldFontFile string        `env:"DEFAULT_BOLD_FONT_FILE" envDefault:"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"`
	ArabicFontFile      string        `env:"ARABIC_FONT_FILE" envDefault:"/usr/share/fonts/truetype/noto/NotoSansArabic-Regular.ttf"`
	FontCSSURL          string        `env:"FONT_CSS_URL" envDefault:"https://fonts.googleapis.com/css2"`
	FontFetchTimeout    time.Duration `env:"FONT_FETCH_TIMEOUT" envDefault:"15s"`

	// Rendering
	FFmpegPath        string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath       string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	RenderTimeout     time.Duration `env:"RENDER_TIMEOUT" envDefault:"10m"`
	DefaultResolution string        `env:"DEFAULT_RESOLUTION" envDefault:"1920x1080"`
	SceneConcurrency  int           `env:"SCENE_CONCURRENCY" envDefault:"1"`

	// Worker
	MaxConcurrentJobs  int  `env:"MAX_CONCURRENT_JOBS" envDefault:"2"`
	RecoverInterrupted bool `env:"RECOVER_INTERRUPTED_RENDERS" envDefault:"true"` // single rendering instance only

	// Logging
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"30"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	if _, err := models.ParseResolution(c.DefaultResolution); err != nil {
		return fmt.Errorf("DEFAULT_RESOLUTION: %w", err)
	}

	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}

	if c.SceneConcurrency < 1 {
		return fmt.Errorf("SCENE_CONCURRENCY must be at least 1")
	}

	if c.RenderTimeout <= 0 {
		return fmt.Errorf("RENDER_TIMEOUT must be positive")
	}

	// Publishing needs both halves of the Supabase credentials
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}

	return nil
}

// PublishingEnabled reports whether finished videos are uploaded to Supabase.
func (c *Config) PublishingEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}
