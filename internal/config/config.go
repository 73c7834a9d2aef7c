package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Secret はトークン署名とセッション保護に使用するサーバー全体の秘密鍵。
	SecretKey string

	// Session
	SessionMaxAge int

	// Token
	ConfirmTokenMaxAge time.Duration
	ResetTokenMaxAge   time.Duration

	// OAuth（任意。未設定の場合はソーシャルログインを無効化する）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Stripe
	StripeSecretKey        string
	StripePriceID          string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	StripeTimeout          time.Duration
	StripeAPIURL           string

	// Queue
	RedisURL string

	// Mail
	MailServer        string
	MailPort          int
	MailUsername      string
	MailPassword      string
	MailDefaultSender string

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Worker
	CleanupSchedule string
	// LogLevel はdebug/info/warn/errorのいずれか。
	LogLevel string

	// WorkerMetricsPort が空でなければworkerは/metricsをこのポートで公開する。
	WorkerMetricsPort string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// GoogleEnabled はGoogleソーシャルログインの設定が揃っているかどうかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Load は環境変数からConfigを読み込む。
// .envファイルが存在する場合は先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SecretKey = os.Getenv("SECRET_KEY")
	if cfg.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	if cfg.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}

	cfg.StripePriceID = os.Getenv("STRIPE_PRICE_ID")
	if cfg.StripePriceID == "" {
		missing = append(missing, "STRIPE_PRICE_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.ConfirmTokenMaxAge = getEnvDuration("CONFIRM_TOKEN_MAX_AGE", time.Hour)
	cfg.ResetTokenMaxAge = getEnvDuration("RESET_TOKEN_MAX_AGE", 30*time.Minute)
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.StripeWebhookTolerance = getEnvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute)
	cfg.StripeTimeout = getEnvDuration("STRIPE_TIMEOUT", 10*time.Second)
	cfg.StripeAPIURL = os.Getenv("STRIPE_API_URL")
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.MailServer = getEnvString("MAIL_SERVER", "localhost")
	cfg.MailPort = getEnvInt("MAIL_PORT", 587)
	cfg.MailUsername = os.Getenv("MAIL_USERNAME")
	cfg.MailPassword = os.Getenv("MAIL_PASSWORD")
	cfg.MailDefaultSender = getEnvString("MAIL_DEFAULT_SENDER", "noreply@localhost")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "@hourly")
	cfg.WorkerMetricsPort = os.Getenv("WORKER_METRICS_PORT")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	return cfg, nil
}

// loadDotEnv は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
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
