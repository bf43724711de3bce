// Package vision は画像解析ワーカーとの連携境界を提供する。
// 画像から推定されたムード・ジャンルのヒントをレコメンドパイプラインへ渡す。
package vision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/hitoshi/tunepick/internal/model"
)

// Prediction は画像解析ワーカーが検出したオブジェクトの1件。
type Prediction struct {
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Analysis は画像解析の結果。MoodとGenreはレコメンドクエリのヒントとして使われ、
// ユーザーが明示的に指定した好みがあればそちらが優先される。
type Analysis struct {
	Mood        string       `json:"mood"`
	Genre       string       `json:"genre"`
	Genres      []string     `json:"genres,omitempty"`
	Confidence  float64      `json:"confidence"`
	Explanation string       `json:"explanation,omitempty"`
	Predictions []Prediction `json:"predictions,omitempty"`
}

// Analyzer は画像解析機能のインターフェース。
// HTTPワーカー実装のほか、テスト用モックが実装する。
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (*Analysis, error)
}

// Client は画像解析ワーカーのHTTPクライアント。
// 画像バイト列をワーカーへPOSTし、解析結果のJSONを受け取る。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
	maxSize    int64
}

var _ Analyzer = (*Client)(nil)

// NewClient はClient の新しいインスタンスを生成する。
// timeoutはワーカー呼び出し全体のタイムアウト、maxSizeは受け付ける画像の最大バイト数。
func NewClient(endpoint string, timeout time.Duration, maxSize int64, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		endpoint:   endpoint,
		maxSize:    maxSize,
	}
}

// Analyze は画像を解析ワーカーへ送信し、ムード・ジャンルの推定結果を返す。
// 空の画像やサイズ超過はワーカー呼び出し前にバリデーションエラーとする。
func (c *Client) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	if len(image) == 0 {
		return nil, model.NewValidationError("画像データが空です")
	}
	if int64(len(image)) > c.maxSize {
		return nil, model.NewValidationError(fmt.Sprintf("画像サイズが上限を超えています: %d > %d", len(image), c.maxSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("画像解析ワーカーの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("image_bytes", len(image)),
		)
		return nil, model.NewImageAnalysisError("画像解析ワーカーに接続できませんでした")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("画像解析ワーカーがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewImageAnalysisError(fmt.Sprintf("画像解析ワーカーがステータス %d を返しました", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result Analysis
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("画像解析結果のパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewImageAnalysisError("画像解析結果のパースに失敗しました")
	}

	// ワーカーはジャンル候補をリストで返すため、先頭をクエリヒントに採用する
	if result.Genre == "" && len(result.Genres) > 0 {
		result.Genre = result.Genres[0]
	}

	return &result, nil
}
