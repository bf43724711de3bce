package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tunepick/internal/middleware"
	"github.com/hitoshi/tunepick/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// mockPrefService はPreferenceServiceのモック。ドキュメントをメモリに保持する。
type mockPrefService struct {
	prefs  map[string]*model.Preferences
	getErr error
}

func newMockPrefService() *mockPrefService {
	return &mockPrefService{prefs: make(map[string]*model.Preferences)}
}

func (m *mockPrefService) Get(ctx context.Context, userID string) (*model.Preferences, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.doc(userID), nil
}

func (m *mockPrefService) Update(ctx context.Context, userID string, mutate func(*model.Preferences)) error {
	mutate(m.doc(userID))
	return nil
}

func (m *mockPrefService) doc(userID string) *model.Preferences {
	if p, ok := m.prefs[userID]; ok {
		return p
	}
	p := model.NewPreferences("pref-1", userID)
	m.prefs[userID] = p
	return p
}

// mockLibrary はTrackLibraryのモック。
type mockLibrary struct {
	saved   []string
	saveErr error
}

func (m *mockLibrary) SaveTrack(ctx context.Context, userID, trackID string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, trackID)
	return nil
}

func authedRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
}

func TestSongFeedback_Like(t *testing.T) {
	prefs := newMockPrefService()
	library := &mockLibrary{}
	h := NewFeedbackHandler(prefs, library, testLogger())

	req := authedRequest(http.MethodPost, "/api/feedback/songs",
		`{"action":"like","song":{"songId":"s1","name":"Song","artist":"Artist","uri":"spotify:track:s1"}}`)
	rec := httptest.NewRecorder()
	h.SongFeedback(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	doc := prefs.doc("user-1")
	if len(doc.LikedSongs) != 1 || doc.LikedSongs[0].SongID != "s1" {
		t.Errorf("LikedSongs = %+v", doc.LikedSongs)
	}
	// likeは外部カタログのライブラリにも保存する
	if len(library.saved) != 1 || library.saved[0] != "s1" {
		t.Errorf("saved = %v", library.saved)
	}
}

func TestSongFeedback_LikeSucceedsWhenLibrarySaveFails(t *testing.T) {
	prefs := newMockPrefService()
	library := &mockLibrary{saveErr: errors.New("catalog down")}
	h := NewFeedbackHandler(prefs, library, testLogger())

	req := authedRequest(http.MethodPost, "/api/feedback/songs",
		`{"action":"like","song":{"songId":"s1"}}`)
	rec := httptest.NewRecorder()
	h.SongFeedback(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("ライブラリ保存失敗でもフィードバックは成立すべき: status = %d", rec.Code)
	}
	if len(prefs.doc("user-1").LikedSongs) != 1 {
		t.Error("好みドキュメントが更新されていない")
	}
}

func TestSongFeedback_DislikeMovesFromLiked(t *testing.T) {
	prefs := newMockPrefService()
	prefs.doc("user-1").AddLikedSong(model.TrackRef{SongID: "s1", Name: "Song"})
	h := NewFeedbackHandler(prefs, &mockLibrary{}, testLogger())

	req := authedRequest(http.MethodPost, "/api/feedback/songs",
		`{"action":"dislike","song":{"songId":"s1","name":"Song"}}`)
	rec := httptest.NewRecorder()
	h.SongFeedback(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := prefs.doc("user-1")
	if len(doc.LikedSongs) != 0 || len(doc.DislikedSongs) != 1 {
		t.Errorf("相互排他が効いていない: liked=%d disliked=%d", len(doc.LikedSongs), len(doc.DislikedSongs))
	}
}

func TestSongFeedback_SaveWithImage(t *testing.T) {
	prefs := newMockPrefService()
	h := NewFeedbackHandler(prefs, &mockLibrary{}, testLogger())

	// "pic" のBase64
	req := authedRequest(http.MethodPost, "/api/feedback/songs",
		`{"action":"save","song":{"songId":"s1"},"image":"cGlj","imageType":"image/jpeg"}`)
	rec := httptest.NewRecorder()
	h.SongFeedback(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := prefs.doc("user-1")
	if len(doc.SavedSongs) != 1 {
		t.Fatalf("SavedSongs = %+v", doc.SavedSongs)
	}
	if string(doc.SavedSongs[0].Image) != "pic" || doc.SavedSongs[0].ImageType != "image/jpeg" {
		t.Errorf("画像が保存されていない: %+v", doc.SavedSongs[0])
	}
}

func TestSongFeedback_UnknownAction(t *testing.T) {
	h := NewFeedbackHandler(newMockPrefService(), &mockLibrary{}, testLogger())

	req := authedRequest(http.MethodPost, "/api/feedback/songs",
		`{"action":"loathe","song":{"songId":"s1"}}`)
	rec := httptest.NewRecorder()
	h.SongFeedback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSongFeedback_MissingSongID(t *testing.T) {
	h := NewFeedbackHandler(newMockPrefService(), &mockLibrary{}, testLogger())

	req := authedRequest(http.MethodPost, "/api/feedback/songs", `{"action":"like","song":{}}`)
	rec := httptest.NewRecorder()
	h.SongFeedback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func deleteRequestWithParam(target, key, value string) *http.Request {
	req := authedRequest(http.MethodDelete, target, "")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestRemoveSong_DropsFromAllLists(t *testing.T) {
	prefs := newMockPrefService()
	doc := prefs.doc("user-1")
	doc.AddLikedSong(model.TrackRef{SongID: "s1", URI: "spotify:track:s1"})
	doc.AddSavedSong(model.TrackRef{SongID: "s1"}, nil, "")
	h := NewFeedbackHandler(prefs, &mockLibrary{}, testLogger())

	req := deleteRequestWithParam("/api/feedback/songs/s1", "id", "s1")
	rec := httptest.NewRecorder()
	h.RemoveSong(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(doc.LikedSongs) != 0 || len(doc.SavedSongs) != 0 {
		t.Errorf("liked=%d saved=%d, want 0/0", len(doc.LikedSongs), len(doc.SavedSongs))
	}
}

func TestArtistFeedback_LikeAndRemove(t *testing.T) {
	prefs := newMockPrefService()
	h := NewFeedbackHandler(prefs, &mockLibrary{}, testLogger())

	req := authedRequest(http.MethodPost, "/api/feedback/artists",
		`{"action":"like","artist":{"artistId":"a1","name":"Artist"}}`)
	rec := httptest.NewRecorder()
	h.ArtistFeedback(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if !prefs.doc("user-1").HasLikedArtist("a1") {
		t.Error("アーティストが登録されていない")
	}

	delReq := deleteRequestWithParam("/api/feedback/artists/a1", "id", "a1")
	delRec := httptest.NewRecorder()
	h.RemoveArtist(delRec, delReq)

	if delRec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", delRec.Code)
	}
	if prefs.doc("user-1").HasLikedArtist("a1") {
		t.Error("アーティストが削除されていない")
	}
}

func TestGetPreferences(t *testing.T) {
	prefs := newMockPrefService()
	prefs.doc("user-1").AddLikedSong(model.TrackRef{SongID: "s1", Name: "Song"})
	h := NewFeedbackHandler(prefs, &mockLibrary{}, testLogger())

	req := authedRequest(http.MethodGet, "/api/preferences", "")
	rec := httptest.NewRecorder()
	h.GetPreferences(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"songId":"s1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestFeedback_Unauthenticated(t *testing.T) {
	h := NewFeedbackHandler(newMockPrefService(), &mockLibrary{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/feedback/songs",
		strings.NewReader(`{"action":"like","song":{"songId":"s1"}}`))
	rec := httptest.NewRecorder()
	h.SongFeedback(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
