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

	// 外部音楽カタログ（Spotify Web API）
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRedirectURL  string
	CatalogTimeout      time.Duration
	CatalogRate         float64 // req/sec
	CatalogBurst        int

	// キャッシュ層
	CacheDir          string
	PrefCacheTTL      time.Duration // 好みドキュメントのキャッシュTTL
	PrefFlushMargin   time.Duration // TTL切れ前にフラッシュを行う余裕時間
	CredentialTTL     time.Duration // 資格情報のキャッシュTTL

	// 画像解析ワーカー
	VisionURL     string
	VisionTimeout time.Duration
	ImageMaxSize  int64

	// Session
	SessionSecret string
	SessionMaxAge int

	// Rate Limit（毎分リクエスト数、ユーザーごと）
	RateLimitGeneral   int
	RateLimitRecommend int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
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

	cfg.SpotifyClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	if cfg.SpotifyClientID == "" {
		missing = append(missing, "SPOTIFY_CLIENT_ID")
	}

	cfg.SpotifyClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	if cfg.SpotifyClientSecret == "" {
		missing = append(missing, "SPOTIFY_CLIENT_SECRET")
	}

	cfg.SpotifyRedirectURL = os.Getenv("SPOTIFY_REDIRECT_URL")
	if cfg.SpotifyRedirectURL == "" {
		missing = append(missing, "SPOTIFY_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.CatalogTimeout = getEnvDuration("CATALOG_TIMEOUT", 10*time.Second)
	cfg.CatalogRate = getEnvFloat("CATALOG_RATE", 10)
	cfg.CatalogBurst = getEnvInt("CATALOG_BURST", 20)
	cfg.CacheDir = getEnvString("CACHE_DIR", "/var/lib/tunepick/cache")
	cfg.PrefCacheTTL = getEnvDuration("PREF_CACHE_TTL", 900*time.Second)
	cfg.PrefFlushMargin = getEnvDuration("PREF_FLUSH_MARGIN", 60*time.Second)
	cfg.CredentialTTL = getEnvDuration("CREDENTIAL_TTL", 24*time.Hour)
	cfg.VisionURL = getEnvString("VISION_URL", "http://localhost:5001/analyze")
	cfg.VisionTimeout = getEnvDuration("VISION_TIMEOUT", 30*time.Second)
	cfg.ImageMaxSize = getEnvInt64("IMAGE_MAX_SIZE", 5000000)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRecommend = getEnvInt("RATE_LIMIT_RECOMMEND", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.PrefFlushMargin >= cfg.PrefCacheTTL {
		return nil, fmt.Errorf("PREF_FLUSH_MARGIN (%v) must be shorter than PREF_CACHE_TTL (%v)", cfg.PrefFlushMargin, cfg.PrefCacheTTL)
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
