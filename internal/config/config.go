// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// JWT
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTTTL      time.Duration

	// Password
	BcryptCost int

	// Session guard
	// GuardRejectUnscoped がtrueの場合、device_id/svクレームを持たないトークンを拒否する。
	GuardRejectUnscoped bool

	// Session cleanup
	// SessionRetention を超えて使われていないデバイスセッションは日次で削除される。0で無効。
	SessionRetention time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// JWT_SECRETの欠落は起動時の設定エラーであり、サーバーはトラフィックを受け付けてはならない。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "auth-service")
	cfg.JWTAudience = getEnvString("JWT_AUDIENCE", "auth-service")
	cfg.JWTTTL = getEnvDuration("JWT_TTL", 10*time.Minute)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.GuardRejectUnscoped = getEnvBool("SESSION_GUARD_REJECT_UNSCOPED", true)
	cfg.SessionRetention = getEnvDuration("SESSION_RETENTION", 180*24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:4200")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if cfg.JWTTTL <= 0 {
		return nil, fmt.Errorf("JWT_TTL must be positive: %s", cfg.JWTTTL)
	}
	// 有効なトークンが参照するセッション行を削除しないよう、保持期間はTTLより長くなければならない
	if cfg.SessionRetention < 0 || (cfg.SessionRetention > 0 && cfg.SessionRetention <= cfg.JWTTTL) {
		return nil, fmt.Errorf("SESSION_RETENTION must be 0 or longer than JWT_TTL: %s", cfg.SessionRetention)
	}

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
