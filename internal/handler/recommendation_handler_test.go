package handler

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/tunepick/internal/middleware"
	"github.com/hitoshi/tunepick/internal/model"
	"github.com/hitoshi/tunepick/internal/recommend"
	"github.com/hitoshi/tunepick/internal/vision"
)

// mockRecommendService はRecommendationServiceのモック。
type mockRecommendService struct {
	recommendFunc func(ctx context.Context, userID string, hint *vision.Analysis, req recommend.Request) ([]model.Candidate, error)
	genres        []string
}

func (m *mockRecommendService) Recommend(ctx context.Context, userID string, hint *vision.Analysis, req recommend.Request) ([]model.Candidate, error) {
	if m.recommendFunc != nil {
		return m.recommendFunc(ctx, userID, hint, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockRecommendService) Genres(ctx context.Context, userID string) []string {
	return m.genres
}

// mockAnalyzer はvision.Analyzerのモック。
type mockAnalyzer struct {
	analyzeFunc func(ctx context.Context, image []byte) (*vision.Analysis, error)
	calls       int
}

func (m *mockAnalyzer) Analyze(ctx context.Context, image []byte) (*vision.Analysis, error) {
	m.calls++
	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, image)
	}
	return nil, errors.New("not implemented")
}

// multipartBody は画像と検索条件JSONを載せたmultipartリクエストボディを組み立てる。
func multipartBody(t *testing.T, image []byte, preferences string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if image != nil {
		part, err := writer.CreateFormFile("image", "scene.jpg")
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		part.Write(image)
	}
	if preferences != "" {
		writer.WriteField("preferences", preferences)
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func recommendRequest(t *testing.T, image []byte, preferences string) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, image, preferences)
	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", body)
	req.Header.Set("Content-Type", contentType)
	return req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
}

func TestRecommend_WithImageHint(t *testing.T) {
	analyzer := &mockAnalyzer{
		analyzeFunc: func(ctx context.Context, image []byte) (*vision.Analysis, error) {
			return &vision.Analysis{Mood: "calm", Genre: "ambient"}, nil
		},
	}
	service := &mockRecommendService{
		recommendFunc: func(ctx context.Context, userID string, hint *vision.Analysis, req recommend.Request) ([]model.Candidate, error) {
			if hint == nil || hint.Mood != "calm" {
				t.Errorf("hint = %+v", hint)
			}
			if req.Genre != "jazz" {
				t.Errorf("req.Genre = %q", req.Genre)
			}
			return []model.Candidate{{URI: "spotify:track:t1", Name: "Song", Artist: "Artist", Score: 80}}, nil
		},
	}
	h := NewRecommendationHandler(service, analyzer, testLogger())

	req := recommendRequest(t, []byte("fake-image"), `{"genre":"jazz"}`)
	rec := httptest.NewRecorder()
	h.Recommend(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"spotify:track:t1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"analysis"`) {
		t.Errorf("解析結果がレスポンスに含まれるべき: %s", rec.Body.String())
	}
}

func TestRecommend_NoImageSkipsAnalysis(t *testing.T) {
	analyzer := &mockAnalyzer{}
	service := &mockRecommendService{
		recommendFunc: func(ctx context.Context, userID string, hint *vision.Analysis, req recommend.Request) ([]model.Candidate, error) {
			if hint != nil {
				t.Errorf("hint = %+v, want nil", hint)
			}
			return []model.Candidate{{URI: "spotify:track:t1"}}, nil
		},
	}
	h := NewRecommendationHandler(service, analyzer, testLogger())

	req := recommendRequest(t, nil, `{"mood":"happy"}`)
	rec := httptest.NewRecorder()
	h.Recommend(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if analyzer.calls != 0 {
		t.Errorf("画像なしで解析を呼んではならない: calls = %d", analyzer.calls)
	}
}

func TestRecommend_AnalysisFailureContinuesWithoutHint(t *testing.T) {
	analyzer := &mockAnalyzer{
		analyzeFunc: func(ctx context.Context, image []byte) (*vision.Analysis, error) {
			return nil, model.NewImageAnalysisError("worker down")
		},
	}
	service := &mockRecommendService{
		recommendFunc: func(ctx context.Context, userID string, hint *vision.Analysis, req recommend.Request) ([]model.Candidate, error) {
			if hint != nil {
				t.Errorf("hint = %+v, want nil", hint)
			}
			return []model.Candidate{{URI: "spotify:track:t1"}}, nil
		},
	}
	h := NewRecommendationHandler(service, analyzer, testLogger())

	req := recommendRequest(t, []byte("fake-image"), "")
	rec := httptest.NewRecorder()
	h.Recommend(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("解析失敗はヒントなしで続行すべき: status = %d", rec.Code)
	}
}

func TestRecommend_AuthExpiredReturns401(t *testing.T) {
	service := &mockRecommendService{
		recommendFunc: func(ctx context.Context, userID string, hint *vision.Analysis, req recommend.Request) ([]model.Candidate, error) {
			return nil, model.NewAuthExpiredError("token revoked")
		},
	}
	h := NewRecommendationHandler(service, &mockAnalyzer{}, testLogger())

	req := recommendRequest(t, nil, "")
	rec := httptest.NewRecorder()
	h.Recommend(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), model.ErrCodeAuthExpired) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRecommend_InvalidPreferencesJSON(t *testing.T) {
	h := NewRecommendationHandler(&mockRecommendService{}, &mockAnalyzer{}, testLogger())

	req := recommendRequest(t, nil, `{broken`)
	rec := httptest.NewRecorder()
	h.Recommend(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRecommend_NegativeSkip(t *testing.T) {
	h := NewRecommendationHandler(&mockRecommendService{}, &mockAnalyzer{}, testLogger())

	req := recommendRequest(t, nil, `{"skip":-1}`)
	rec := httptest.NewRecorder()
	h.Recommend(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGenres(t *testing.T) {
	service := &mockRecommendService{genres: []string{"jazz", "classical"}}
	h := NewRecommendationHandler(service, &mockAnalyzer{}, testLogger())

	req := authedRequest(http.MethodGet, "/api/genres", "")
	rec := httptest.NewRecorder()
	h.Genres(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"classical"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
