// Package app はアプリケーションの初期化とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tunepick/internal/auth"
	"github.com/hitoshi/tunepick/internal/cachetier"
	"github.com/hitoshi/tunepick/internal/catalog"
	"github.com/hitoshi/tunepick/internal/config"
	"github.com/hitoshi/tunepick/internal/database"
	"github.com/hitoshi/tunepick/internal/handler"
	"github.com/hitoshi/tunepick/internal/logger"
	"github.com/hitoshi/tunepick/internal/metrics"
	"github.com/hitoshi/tunepick/internal/middleware"
	"github.com/hitoshi/tunepick/internal/prefcache"
	"github.com/hitoshi/tunepick/internal/recommend"
	"github.com/hitoshi/tunepick/internal/repository"
	"github.com/hitoshi/tunepick/internal/token"
	"github.com/hitoshi/tunepick/internal/vision"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続とキャッシュ層を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. キャッシュ層
	store, err := cachetier.OpenBadger(cfg.CacheDir, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	defer store.Close()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	credRepo := repository.NewPostgresCredentialRepo(db)
	prefRepo := repository.NewPostgresPreferenceRepo(db)

	// 5. 外部カタログクライアントとキャッシュサービス
	factory := catalog.NewFactory(catalog.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		Timeout:      cfg.CatalogTimeout,
		Rate:         cfg.CatalogRate,
		Burst:        cfg.CatalogBurst,
	}, collector, slog.Default())

	prefCache := prefcache.New(store, prefRepo, collector, slog.Default(), cfg.PrefCacheTTL, cfg.PrefFlushMargin)
	tokenManager := token.NewManager(store, credRepo, factory, collector, slog.Default(), cfg.CredentialTTL)

	// 6. レコメンドエンジン
	suppression := recommend.NewSuppressionCatalog(slog.Default())
	engine := recommend.NewEngine(
		&recommend.ManagerProvider{Manager: tokenManager},
		prefCache,
		suppression,
		collector,
		slog.Default(),
	)

	// 7. 画像解析クライアント
	analyzer := vision.NewClient(cfg.VisionURL, cfg.VisionTimeout, cfg.ImageMaxSize, slog.Default())

	// 8. 認証サービス
	oauthProvider := auth.NewSpotifyOAuthProvider(auth.SpotifyOAuthConfig{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURL:  cfg.SpotifyRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, credRepo, sessionRepo, tokenManager,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 9. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigFromLimits(cfg.RateLimitGeneral, cfg.RateLimitRecommend))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		RecommendService: engine,
		Analyzer:         analyzer,

		PreferenceService: prefCache,
		TrackLibrary:      &handler.ManagerLibrary{Manager: tokenManager},

		DB:       db,
		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
