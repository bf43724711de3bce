package handler

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tunepick/internal/metrics"
	"github.com/hitoshi/tunepick/internal/middleware"
	"github.com/hitoshi/tunepick/internal/vision"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// レコメンド
	RecommendService RecommendationService
	Analyzer         vision.Analyzer

	// フィードバック
	PreferenceService PreferenceService
	TrackLibrary      TrackLibrary

	// 運用
	DB       *sql.DB
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → SessionMiddleware → RateLimit(General)
//
// 認証ルート（/auth/*）と運用ルート（/healthz, /metrics）はセッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	recHandler := NewRecommendationHandler(deps.RecommendService, deps.Analyzer, deps.Logger)
	feedbackHandler := NewFeedbackHandler(deps.PreferenceService, deps.TrackLibrary, deps.Logger)

	// --- 認証不要のルート ---

	r.Route("/auth", func(r chi.Router) {
		r.Get("/spotify/login", authHandler.Login)
		r.Get("/spotify/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Get("/healthz", healthzHandler(deps.DB))

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.SetupMetricsRoute(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// レコメンド生成（画像解析と外部検索を伴うため専用レート制限を追加）
		r.With(deps.RateLimiter.RecommendationMiddleware()).
			Post("/api/recommendations", recHandler.Recommend)

		r.Get("/api/genres", recHandler.Genres)
		r.Get("/api/preferences", feedbackHandler.GetPreferences)

		// フィードバック
		r.Route("/api/feedback", func(r chi.Router) {
			r.Post("/songs", feedbackHandler.SongFeedback)
			r.Delete("/songs/{id}", feedbackHandler.RemoveSong)
			r.Post("/artists", feedbackHandler.ArtistFeedback)
			r.Delete("/artists/{id}", feedbackHandler.RemoveArtist)
		})
	})

	return r
}

// healthzHandler は永続ストアへの到達性を確認するヘルスチェックハンドラーを返す。
func healthzHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
