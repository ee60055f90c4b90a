// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// FDOプラットフォーム（フィスカルデータオペレーター）
	PlatformBaseURL string
	PartnerID       string
	PartnerINN      string
	PartnerName     string
	PartnerPhone    string

	// Sync
	ReceiptSyncInterval time.Duration
	UnbindSyncInterval  time.Duration
	SyncMaxConcurrent   int
	MarkerTTL           time.Duration

	// Bind polling
	BindPollInterval time.Duration
	BindPollDeadline time.Duration
	BindPollWorkers  int

	// Protocol client
	PlatformTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.PlatformBaseURL = os.Getenv("PLATFORM_BASE_URL")
	if cfg.PlatformBaseURL == "" {
		missing = append(missing, "PLATFORM_BASE_URL")
	}

	cfg.PartnerID = os.Getenv("PARTNER_ID")
	if cfg.PartnerID == "" {
		missing = append(missing, "PARTNER_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PartnerINN = getEnvString("PARTNER_INN", "")
	cfg.PartnerName = getEnvString("PARTNER_NAME", "")
	cfg.PartnerPhone = getEnvString("PARTNER_PHONE", "")
	cfg.ReceiptSyncInterval = getEnvDuration("RECEIPT_SYNC_INTERVAL", 5*time.Minute)
	cfg.UnbindSyncInterval = getEnvDuration("UNBIND_SYNC_INTERVAL", 5*time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 10)
	cfg.MarkerTTL = getEnvDuration("MARKER_TTL", 7*24*time.Hour)
	cfg.BindPollInterval = getEnvDuration("BIND_POLL_INTERVAL", 10*time.Second)
	cfg.BindPollDeadline = getEnvDuration("BIND_POLL_DEADLINE", 6*time.Minute)
	cfg.BindPollWorkers = getEnvInt("BIND_POLL_WORKERS", 32)
	cfg.PlatformTimeout = getEnvDuration("PLATFORM_TIMEOUT", 30*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
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
