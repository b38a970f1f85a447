package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL    string
	DatabaseURL string
	JWTSecret   string

	HistoryLimit    int
	HistoryPreview  int
	ProfileCacheTTL time.Duration
	SessionTTL      time.Duration

	MsgCatDir      string
	AllowedOrigins []string
}

// Load reads the configuration from the environment, after applying an optional .env
// file. Variables already set in the environment win over the file.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:        ":8080",
		HistoryLimit:    20,
		HistoryPreview:  5,
		ProfileCacheTTL: 6 * time.Hour,
		SessionTTL:      24 * time.Hour,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.MsgCatDir = strings.TrimSpace(os.Getenv("MSGCAT_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	if n, ok := positiveInt("HISTORY_LIMIT"); ok {
		cfg.HistoryLimit = n
	}
	if n, ok := positiveInt("HISTORY_PREVIEW"); ok {
		cfg.HistoryPreview = n
	}
	if n, ok := positiveInt("PROFILE_CACHE_TTL"); ok { // seconds
		cfg.ProfileCacheTTL = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("SESSION_TTL"); ok { // seconds
		cfg.SessionTTL = time.Duration(n) * time.Second
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
