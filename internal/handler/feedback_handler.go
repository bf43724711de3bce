package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/hitoshi/tunepick/internal/middleware"
	"github.com/hitoshi/tunepick/internal/model"
)

// 楽曲フィードバックのアクション種別
const (
	feedbackActionLike    = "like"
	feedbackActionDislike = "dislike"
	feedbackActionSave    = "save"
)

// PreferenceService はフィードバックハンドラーが必要とする好みドキュメントの操作。
// prefcache.PreferenceCacheが実装する。
type PreferenceService interface {
	Get(ctx context.Context, userID string) (*model.Preferences, error)
	Update(ctx context.Context, userID string, mutate func(*model.Preferences)) error
}

// TrackLibrary は外部カタログのライブラリ保存に必要な操作。
type TrackLibrary interface {
	SaveTrack(ctx context.Context, userID, trackID string) error
}

// FeedbackHandler は楽曲・アーティストのフィードバックを処理するHTTPハンドラー。
type FeedbackHandler struct {
	prefs   PreferenceService
	library TrackLibrary
	logger  *slog.Logger
}

// NewFeedbackHandler はFeedbackHandlerを生成する。
func NewFeedbackHandler(prefs PreferenceService, library TrackLibrary, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		prefs:   prefs,
		library: library,
		logger:  logger,
	}
}

// songFeedbackRequest は楽曲フィードバックのリクエストボディ。
// Imageはsaveアクション時のみ使われるBase64エンコードされた画像。
type songFeedbackRequest struct {
	Action    string         `json:"action"`
	Song      model.TrackRef `json:"song"`
	Image     string         `json:"image,omitempty"`
	ImageType string         `json:"imageType,omitempty"`
}

// artistFeedbackRequest はアーティストフィードバックのリクエストボディ。
type artistFeedbackRequest struct {
	Action string          `json:"action"`
	Artist model.ArtistRef `json:"artist"`
}

// SongFeedback は楽曲フィードバックを処理する。
// POST /api/feedback/songs
func (h *FeedbackHandler) SongFeedback(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	var req songFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.Song.SongID == "" && req.Song.URI != "" {
		req.Song.SongID = model.TrackIDFromURI(req.Song.URI)
	}
	if req.Song.SongID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("songIdが空です"))
		return
	}

	switch req.Action {
	case feedbackActionLike:
		err = h.prefs.Update(r.Context(), userID, func(p *model.Preferences) {
			p.AddLikedSong(req.Song)
		})
		if err == nil {
			// 外部カタログのライブラリにも保存する。失敗してもフィードバック自体は成立させる。
			if saveErr := h.library.SaveTrack(r.Context(), userID, req.Song.SongID); saveErr != nil {
				h.logger.Warn("ライブラリへの保存に失敗しました",
					slog.String("user_id", userID),
					slog.String("song_id", req.Song.SongID),
					slog.String("error", saveErr.Error()),
				)
			}
		}
	case feedbackActionDislike:
		err = h.prefs.Update(r.Context(), userID, func(p *model.Preferences) {
			p.AddDislikedSong(req.Song)
		})
	case feedbackActionSave:
		var image []byte
		if req.Image != "" {
			image, err = base64.StdEncoding.DecodeString(req.Image)
			if err != nil {
				middleware.WriteAPIError(w, model.NewValidationError("imageのBase64デコードに失敗しました"))
				return
			}
		}
		err = h.prefs.Update(r.Context(), userID, func(p *model.Preferences) {
			p.AddSavedSong(req.Song, image, req.ImageType)
		})
	default:
		middleware.WriteAPIError(w, model.NewValidationError("actionはlike/dislike/saveのいずれかを指定してください"))
		return
	}

	if err != nil {
		h.logger.Error("楽曲フィードバックの保存に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveSong は楽曲を履歴（liked/disliked/saved）から削除する。
// DELETE /api/feedback/songs/{id}
func (h *FeedbackHandler) RemoveSong(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	songID := chi.URLParam(r, "id")
	if songID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("songIdが空です"))
		return
	}

	err = h.prefs.Update(r.Context(), userID, func(p *model.Preferences) {
		p.RemoveSongFromHistory(songID)
		p.RemoveSavedSong(songID)
	})
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ArtistFeedback はアーティストフィードバックを処理する。
// POST /api/feedback/artists
func (h *FeedbackHandler) ArtistFeedback(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	var req artistFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.Artist.ArtistID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("artistIdが空です"))
		return
	}

	switch req.Action {
	case feedbackActionLike:
		err = h.prefs.Update(r.Context(), userID, func(p *model.Preferences) {
			p.AddLikedArtist(req.Artist)
		})
	case feedbackActionDislike:
		err = h.prefs.Update(r.Context(), userID, func(p *model.Preferences) {
			p.AddDislikedArtist(req.Artist)
		})
	default:
		middleware.WriteAPIError(w, model.NewValidationError("actionはlike/dislikeのいずれかを指定してください"))
		return
	}

	if err != nil {
		h.logger.Error("アーティストフィードバックの保存に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveArtist はアーティストをliked/dislikedの両リストから削除する。
// DELETE /api/feedback/artists/{id}
func (h *FeedbackHandler) RemoveArtist(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	artistID := chi.URLParam(r, "id")
	if artistID == "" {
		middleware.WriteAPIError(w, model.NewValidationError("artistIdが空です"))
		return
	}

	err = h.prefs.Update(r.Context(), userID, func(p *model.Preferences) {
		p.RemoveArtist(artistID)
	})
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences は好みドキュメントを返す。
// GET /api/preferences
func (h *FeedbackHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	prefs, err := h.prefs.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("好みドキュメントの読み出しに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prefs)
}
