package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database DatabaseConfig
	Vision   VisionConfig
	Web      WebConfig
	Kiosk    KioskConfig
	Tuning   TuningConfig
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int // Maximum open connections (default 25)
	MaxIdleConns int // Maximum idle connections (default 5)
}

type VisionConfig struct {
	URL string // face inference sidecar, defaults to http://localhost:8000
}

type WebConfig struct {
	APIKey         string // shared kiosk API key; empty disables auth (development only)
	AllowedOrigins string // comma-separated CORS origins
}

type KioskConfig struct {
	FallbackSiteID string // site used when a deployment skips GPS entirely
}

// TuningConfig holds the compiled-in tuning defaults (defaults.yaml).
// Individual values can be overridden at runtime through the settings table.
type TuningConfig struct {
	Matching struct {
		BaseTolerance            float64 `yaml:"base_tolerance"`
		NearMatchRatio           float64 `yaml:"near_match_ratio"`
		IndexThreshold           int     `yaml:"index_threshold"`
		LeafSize                 int     `yaml:"leaf_size"`
		MaxEmbeddingsPerIdentity int     `yaml:"max_embeddings_per_identity"`
	} `yaml:"matching"`
	Liveness struct {
		PassThreshold float64 `yaml:"pass_threshold"`
		ReviewMargin  float64 `yaml:"review_margin"`
	} `yaml:"liveness"`
	Geofence struct {
		Enabled               bool    `yaml:"enabled"`
		RequiredAccuracyM     float64 `yaml:"required_accuracy_m"`
		DefaultRadiusM        float64 `yaml:"default_radius_m"`
		AccuracyReviewMarginM float64 `yaml:"accuracy_review_margin_m"`
	} `yaml:"geofence"`
	Attendance struct {
		MinGapSeconds int `yaml:"min_gap_seconds"`
	} `yaml:"attendance"`
	RateLimit struct {
		MaxRequests   int `yaml:"max_requests"`
		WindowSeconds int `yaml:"window_seconds"`
		Burst         int `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func Load() *Config {
	var tuning TuningConfig
	if err := yaml.Unmarshal(defaultsYAML, &tuning); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Vision: VisionConfig{
			URL: os.Getenv("VISION_URL"),
		},
		Web: WebConfig{
			APIKey:         os.Getenv("WEB_API_KEY"),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Kiosk: KioskConfig{
			FallbackSiteID: os.Getenv("KIOSK_FALLBACK_SITE_ID"),
		},
		Tuning: tuning,
	}
}
