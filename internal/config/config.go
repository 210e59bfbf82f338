package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	JWTSecret string

	RedisURL    string
	DatabaseURL string

	MessageOverrideDir string

	PauseGrace    time.Duration
	SweepInterval time.Duration

	StockfishPath   string
	CloudEvalURL    string
	SuggestMoveTime time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		PauseGrace:      2 * time.Minute,
		SweepInterval:   15 * time.Second,
		SuggestMoveTime: 1500 * time.Millisecond,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MESSAGE_TEMPLATE_DIR"))

	if v := strings.TrimSpace(os.Getenv("PAUSE_GRACE_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PauseGrace = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepInterval = time.Duration(n) * time.Second
		}
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	cfg.CloudEvalURL = strings.TrimSpace(os.Getenv("CLOUD_EVAL_URL"))
	if v := strings.TrimSpace(os.Getenv("SUGGEST_MOVETIME_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SuggestMoveTime = time.Duration(n) * time.Millisecond
		}
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
