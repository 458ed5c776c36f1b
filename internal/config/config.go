package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL    string
	DatabaseURL string

	JWTSecret string
	TokenTTL  time.Duration

	// Game clock per side, in seconds.
	GameClockSec int

	MatchStartScope int
	MatchScopeStep  int
	MatchTxRetries  int

	RatingK int

	PollMaxAttempts int
	PollDelay       time.Duration

	StrictMoves bool
	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:        ":8080",
		TokenTTL:        24 * time.Hour,
		GameClockSec:    24 * 60 * 60,
		MatchStartScope: 20,
		MatchScopeStep:  50,
		MatchTxRetries:  8,
		RatingK:         15,
		PollMaxAttempts: 10,
		PollDelay:       2 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if n, ok := positiveInt("TOKEN_TTL_SEC"); ok {
		cfg.TokenTTL = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("GAME_CLOCK_SEC"); ok {
		cfg.GameClockSec = n
	}
	if n, ok := positiveInt("MATCH_START_SCOPE"); ok {
		cfg.MatchStartScope = n
	}
	if n, ok := positiveInt("MATCH_SCOPE_STEP"); ok {
		cfg.MatchScopeStep = n
	}
	if n, ok := positiveInt("MATCH_TX_RETRIES"); ok {
		cfg.MatchTxRetries = n
	}
	if n, ok := positiveInt("RATING_K"); ok {
		cfg.RatingK = n
	}
	if n, ok := positiveInt("POLL_MAX_ATTEMPTS"); ok {
		cfg.PollMaxAttempts = n
	}
	if n, ok := positiveInt("POLL_DELAY_MS"); ok {
		cfg.PollDelay = time.Duration(n) * time.Millisecond
	}
	if v := strings.TrimSpace(os.Getenv("STRICT_MOVES")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictMoves = b
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
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
