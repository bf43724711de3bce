package vision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/tunepick/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestClient_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("HTTPメソッドが不正: got %s, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("画像バイト列が送信されていません")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"mood": "relaxed",
			"confidence": 0.72,
			"genres": ["ambient", "classical"],
			"predictions": [{"object": "lakeside", "confidence": 0.61}]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 5000000, testLogger())

	analysis, err := client.Analyze(context.Background(), []byte("fake-image-bytes"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if analysis.Mood != "relaxed" {
		t.Errorf("Mood = %q, want %q", analysis.Mood, "relaxed")
	}
	// ジャンル候補リストの先頭がGenreに採用される
	if analysis.Genre != "ambient" {
		t.Errorf("Genre = %q, want %q", analysis.Genre, "ambient")
	}
	if len(analysis.Predictions) != 1 || analysis.Predictions[0].Object != "lakeside" {
		t.Errorf("Predictions が不正: %+v", analysis.Predictions)
	}
}

func TestClient_Analyze_EmptyImage(t *testing.T) {
	client := NewClient("http://localhost:0", 5*time.Second, 5000000, testLogger())

	_, err := client.Analyze(context.Background(), nil)
	if err == nil {
		t.Fatal("空画像でエラーが返りませんでした")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationError {
		t.Errorf("VALIDATION_ERROR が返るべき: got %v", err)
	}
}

func TestClient_Analyze_OversizedImage(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 10, testLogger())

	_, err := client.Analyze(context.Background(), make([]byte, 11))
	if err == nil {
		t.Fatal("サイズ超過でエラーが返りませんでした")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationError {
		t.Errorf("VALIDATION_ERROR が返るべき: got %v", err)
	}
	if called {
		t.Error("バリデーション失敗時にワーカーが呼ばれてはならない")
	}
}

func TestClient_Analyze_WorkerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 5000000, testLogger())

	_, err := client.Analyze(context.Background(), []byte("img"))
	if err == nil {
		t.Fatal("ワーカーエラーでエラーが返りませんでした")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeImageAnalysis {
		t.Errorf("IMAGE_ANALYSIS_FAILED が返るべき: got %v", err)
	}
}

func TestClient_Analyze_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, 5000000, testLogger())

	_, err := client.Analyze(context.Background(), []byte("img"))
	if err == nil {
		t.Fatal("不正JSONでエラーが返りませんでした")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeImageAnalysis {
		t.Errorf("IMAGE_ANALYSIS_FAILED が返るべき: got %v", err)
	}
}
