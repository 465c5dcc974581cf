package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultTrackedPlates are the buses the latency table always lists
var DefaultTrackedPlates = []string{"제주79자7117", "제주79자7122", "제주79자7111"}

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string        `validate:"required"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	PositionFeedURL    string        `validate:"required,url"`
	PositionFeedFormat string        `validate:"oneof=json gtfsrt"`
	POIFeedURL         string        `validate:"omitempty,url"`
	PollInterval       time.Duration `validate:"gt=0"`
	POIRetryInterval   time.Duration `validate:"gte=0"`
	FetchTimeout       time.Duration `validate:"gt=0"`

	TrackedPlates []string
	ReconcileMode string `validate:"oneof=replace diff"`
	TileZoomLevel int    `validate:"gte=0,lte=22"`

	RedisEnabled  bool
	RedisAddr     string `validate:"required_if=RedisEnabled true"`
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	CacheTTL      time.Duration `validate:"gte=0"`

	RateLimitPerWindow int           `validate:"gt=0"`
	RateLimitWindow    time.Duration `validate:"gt=0"`
	RateLimitWhitelist []string
}

// Load reads the optional CONFIG_FILE, then lets environment variables override it.
func Load() (*Config, error) {
	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", parseLogLevel(file.LogLevel, slog.LevelInfo)),
		HTTPAddr:        getEnv("HTTP_ADDR", or(file.HTTPAddr, ":8080")),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		PositionFeedURL:    getEnv("POSITION_FEED_URL", file.Feeds.PositionURL),
		PositionFeedFormat: strings.ToLower(getEnv("POSITION_FEED_FORMAT", or(file.Feeds.PositionFormat, "json"))),
		POIFeedURL:         getEnv("POI_FEED_URL", file.Feeds.POIURL),
		PollInterval:       getDurationEnv("POLL_INTERVAL", fileDuration(file.Feeds.PollInterval, 5*time.Second)),
		POIRetryInterval:   getDurationEnv("POI_RETRY_INTERVAL", fileDuration(file.Feeds.POIRetryInterval, 30*time.Second)),
		FetchTimeout:       getDurationEnv("FETCH_TIMEOUT", fileDuration(file.Feeds.FetchTimeout, 10*time.Second)),

		TrackedPlates: getCSVEnv("TRACKED_PLATES"),
		ReconcileMode: strings.ToLower(getEnv("RECONCILE_MODE", or(file.ReconcileMode, "replace"))),
		TileZoomLevel: getIntEnv("TILE_ZOOM_LEVEL", 14),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", file.Redis.Enabled),
		RedisAddr:     getEnv("REDIS_ADDR", or(file.Redis.Addr, "localhost:6379")),
		RedisPassword: getEnv("REDIS_PASSWORD", file.Redis.Password),
		RedisDB:       getIntEnv("REDIS_DB", file.Redis.DB),
		CacheTTL:      getDurationEnv("CACHE_TTL", 24*time.Hour),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	if cfg.TrackedPlates == nil {
		cfg.TrackedPlates = file.TrackedPlates
	}
	if cfg.TrackedPlates == nil {
		cfg.TrackedPlates = append([]string(nil), DefaultTrackedPlates...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	return parseLogLevel(os.Getenv(key), defaultVal)
}

func parseLogLevel(v string, defaultVal slog.Level) slog.Level {
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
