package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/hitoshi/tunepick/internal/middleware"
	"github.com/hitoshi/tunepick/internal/model"
	"github.com/hitoshi/tunepick/internal/recommend"
	"github.com/hitoshi/tunepick/internal/vision"
)

// maxImageBytes は受け付ける画像サイズの上限。
const maxImageBytes = 10 << 20 // 10MiB

// RecommendationService はレコメンドハンドラーが必要とするサービスインターフェース。
type RecommendationService interface {
	Recommend(ctx context.Context, userID string, hint *vision.Analysis, req recommend.Request) ([]model.Candidate, error)
	Genres(ctx context.Context, userID string) []string
}

// RecommendationHandler はレコメンド生成のHTTPハンドラー。
type RecommendationHandler struct {
	service  RecommendationService
	analyzer vision.Analyzer
	logger   *slog.Logger
}

// NewRecommendationHandler はRecommendationHandlerを生成する。
func NewRecommendationHandler(service RecommendationService, analyzer vision.Analyzer, logger *slog.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		service:  service,
		analyzer: analyzer,
		logger:   logger,
	}
}

// recommendationResponse はレコメンド生成のAPIレスポンス。
type recommendationResponse struct {
	Tracks   []model.Candidate `json:"tracks"`
	Analysis *vision.Analysis  `json:"analysis,omitempty"`
	Fallback bool              `json:"fallback,omitempty"`
}

// Recommend はレコメンド生成を処理する。
// 画像（multipart "image"）と検索条件JSON（multipart "preferences"）を受け取る。
// POST /api/recommendations
func (h *RecommendationHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("multipart形式でリクエストしてください"))
		return
	}

	req, err := parseRecommendRequest(r)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	// 画像が添付されていればムード/ジャンルのヒントを抽出する。
	// 解析失敗はレコメンド自体を止めず、ヒントなしで続行する。
	var hint *vision.Analysis
	if image, imageErr := readImage(r); imageErr != nil {
		middleware.WriteAPIError(w, imageErr)
		return
	} else if image != nil {
		hint, err = h.analyzer.Analyze(r.Context(), image)
		if err != nil {
			h.logger.Warn("画像解析に失敗したためヒントなしで続行します",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			hint = nil
		}
	}

	tracks, err := h.service.Recommend(r.Context(), userID, hint, req)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recommendationResponse{
		Tracks:   tracks,
		Analysis: hint,
	})
}

// Genres はシードジャンルの一覧を返す。
// GET /api/genres
func (h *RecommendationHandler) Genres(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	genres := h.service.Genres(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"genres": genres})
}

// parseRecommendRequest はmultipartの"preferences"フィールドから検索条件を読み取る。
// フィールドが無い場合は空の条件として扱う。
func parseRecommendRequest(r *http.Request) (recommend.Request, error) {
	var req recommend.Request

	raw := r.FormValue("preferences")
	if raw == "" {
		return req, nil
	}

	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return req, model.NewValidationError("preferencesのJSON解析に失敗しました")
	}
	if req.Skip < 0 {
		return req, model.NewValidationError("skipは0以上で指定してください")
	}
	return req, nil
}

// readImage はmultipartの"image"フィールドを読み取る。
// フィールドが無い場合は(nil, nil)。空・上限超過は外部呼び出し前に弾く。
func readImage(r *http.Request) ([]byte, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, model.NewValidationError("imageフィールドの読み取りに失敗しました")
	}
	defer file.Close()

	if header.Size == 0 {
		return nil, model.NewValidationError("画像が空です")
	}
	if header.Size > maxImageBytes {
		return nil, model.NewValidationError("画像サイズが上限を超えています")
	}

	image, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, model.NewValidationError("画像の読み取りに失敗しました")
	}
	if len(image) == 0 {
		return nil, model.NewValidationError("画像が空です")
	}
	return image, nil
}
