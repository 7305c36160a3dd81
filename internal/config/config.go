package config

import (
	"os"
	"strconv"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	DatabaseURL string

	ListenAddr string

	// BalancerConfigPath points to the YAML file with pricing profiles
	// (scopes, price bands, time segments, TEST/LIVE parameters).
	BalancerConfigPath string

	// RunMode selects which profile mode a pipeline invocation processes:
	// "TEST", "LIVE", or "BOTH" (TEST then LIVE for the same boundary).
	RunMode string

	// RetentionDays is how long policy logs, order facts and segment stats
	// are kept, measured against the policy's segment_end.
	RetentionDays int

	// FireWindowSec is how long after a segment boundary the scheduler is
	// still allowed to fire the boundary-close run for it.
	FireWindowSec int

	// APIKey protects the read API. Empty disables authentication.
	APIKey string

	// Order source (SalesDrive-compatible CRM).
	OrderSourceURL string
	OrderSourceKey string

	// Telegram notification sink. Empty token disables notifications.
	TelegramToken  string
	TelegramChatID string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:        os.Getenv("APP_DATABASE_URL"),
		ListenAddr:         getenv("APP_LISTEN_ADDR", ":8080"),
		BalancerConfigPath: getenv("APP_BALANCER_CONFIG", "balancer.yaml"),
		RunMode:            getenv("APP_RUN_MODE", "BOTH"),
		RetentionDays:      90,
		FireWindowSec:      180,
		APIKey:             os.Getenv("APP_API_KEY"),
		OrderSourceURL:     os.Getenv("APP_SALESDRIVE_URL"),
		OrderSourceKey:     os.Getenv("APP_SALESDRIVE_KEY"),
		TelegramToken:      os.Getenv("APP_TELEGRAM_TOKEN"),
		TelegramChatID:     os.Getenv("APP_TELEGRAM_CHAT_ID"),
	}

	if v := os.Getenv("APP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.RetentionDays = days
		}
	}
	if v := os.Getenv("APP_FIRE_WINDOW_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.FireWindowSec = sec
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
