// Package catalog は音楽カタログ（Spotify Web API）のクライアントを提供する。
// レート制限・サーキットブレーカー・エラー分類を備え、
// トークン管理とレコメンドエンジンから利用される。
package catalog

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hitoshi/tunepick/internal/metrics"
)

const (
	defaultAPIBase      = "https://api.spotify.com/v1"
	defaultAccountsBase = "https://accounts.spotify.com"

	// maxSearchLimit は検索APIの1リクエストあたりの最大取得件数。
	maxSearchLimit = 50

	// breakerFailureThreshold は連続失敗でブレーカーが開くまでの回数。
	breakerFailureThreshold = 5
)

// availableGenresFallback はジャンル取得APIが失敗した際の静的リスト。
var availableGenresFallback = []string{
	"pop", "rock", "hip-hop", "rnb", "electronic",
	"classical", "jazz", "indie", "metal", "folk",
	"blues", "country", "latin", "reggae",
	"alternative", "punk", "soul", "funk", "disco",
}

// DefaultGenres はジャンル一覧の静的フォールバックのコピーを返す。
func DefaultGenres() []string {
	genres := make([]string, len(availableGenresFallback))
	copy(genres, availableGenresFallback)
	return genres
}

// Config はカタログクライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	Rate         float64 // 1秒あたりのリクエスト数
	Burst        int
}

// httpResult はブレーカー内部の転送結果。
// 4xxはブレーカーを開かせないためエラーではなく結果として返す。
type httpResult struct {
	status int
	body   []byte
}

// Factory は全ユーザーで共有するカタログクライアントの生成器。
// レートリミッターとサーキットブレーカーはプロセス全体で1つを共有する。
type Factory struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[*httpResult]
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
	clientID     string
	clientSecret string
	apiBase      string // テスト用にエンドポイントを差し替え可能
	accountsBase string
}

// NewFactory はFactory の新しいインスタンスを生成する。
func NewFactory(cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Factory {
	f := &Factory{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:       logger,
		metrics:      collector,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiBase:      defaultAPIBase,
		accountsBase: defaultAccountsBase,
	}

	f.breaker = gobreaker.NewCircuitBreaker[*httpResult](gobreaker.Settings{
		Name:    "catalog",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("カタログAPIサーキットブレーカーの状態が変化しました",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return f
}

// SetEndpoints はテスト用にAPIエンドポイントを差し替える。
func (f *Factory) SetEndpoints(apiBase, accountsBase string) {
	f.apiBase = apiBase
	f.accountsBase = accountsBase
}

// Client は指定されたアクセストークンで認証するクライアントを返す。
func (f *Factory) Client(accessToken string) *Client {
	return &Client{
		factory:     f,
		accessToken: accessToken,
	}
}

// RefreshToken はリフレッシュトークンで新しいアクセストークンを取得する。
// accounts.spotify.com のトークンエンドポイントにBasic認証でPOSTする。
func (f *Factory) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.accountsBase+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	basic := base64.StdEncoding.EncodeToString([]byte(f.clientID + ":" + f.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	result, err := f.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	if result.status != http.StatusOK {
		f.logger.Warn("トークンリフレッシュが拒否されました",
			slog.Int("http_status", result.status),
		)
		return nil, fmt.Errorf("%w: リフレッシュがステータス %d で拒否されました", ErrTokenRejected, result.status)
	}

	var pair TokenPair
	if err := json.Unmarshal(result.body, &pair); err != nil {
		return nil, fmt.Errorf("トークンレスポンスのパースに失敗しました: %w", err)
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("%w: アクセストークンが空です", ErrTokenRejected)
	}

	return &pair, nil
}

// execute はレートリミッターとブレーカーを通してリクエストを実行する。
// ネットワーク障害と5xxのみブレーカーの失敗として計上する。
func (f *Factory) execute(ctx context.Context, req *http.Request) (*httpResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レートリミッター待機が中断されました: %w", err)
	}

	start := time.Now()
	result, err := f.breaker.Execute(func() (*httpResult, error) {
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("カタログAPIがステータス %d を返しました", resp.StatusCode)
		}

		return &httpResult{status: resp.StatusCode, body: body}, nil
	})
	f.metrics.RecordCatalogLatency(time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			f.logger.Warn("カタログAPIサーキットブレーカーが開いています")
			return nil, fmt.Errorf("%w: サーキットブレーカーが開いています", ErrTransient)
		}
		f.logger.Error("カタログAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("path", req.URL.Path),
		)
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return result, nil
}

// Client は1ユーザーのアクセストークンで認証するカタログAPIクライアント。
// トークンリフレッシュ後はFactory.Clientで新しいインスタンスを作る。
type Client struct {
	factory     *Factory
	accessToken string
}

// doAPI は認証付きでAPIリクエストを実行し、ステータスをエラー分類へ写像する。
func (c *Client) doAPI(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.factory.apiBase+endpoint, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	result, err := c.factory.execute(ctx, req)
	if err != nil {
		return err
	}

	switch {
	case result.status == http.StatusUnauthorized:
		return ErrTokenRejected
	case result.status == http.StatusForbidden:
		return ErrAccessRevoked
	case result.status == http.StatusTooManyRequests:
		return ErrRateLimited
	case result.status == http.StatusNotFound:
		return ErrNotFound
	case result.status < 200 || result.status >= 300:
		return fmt.Errorf("%w: カタログAPIがステータス %d を返しました", ErrTransient, result.status)
	}

	if out != nil {
		if err := json.Unmarshal(result.body, out); err != nil {
			return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}
	}

	return nil
}

// Me は認証トークンの生存確認を行う。プロフィールの内容は使わない。
func (c *Client) Me(ctx context.Context) error {
	var profile Profile
	return c.doAPI(ctx, http.MethodGet, "/me", nil, &profile)
}

// Profile は認証ユーザーのプロフィールを取得する。
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.doAPI(ctx, http.MethodGet, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SearchTracks はトラックを検索する。limitは最大50に丸められる。
func (c *Client) SearchTracks(ctx context.Context, query string, opts SearchOptions) ([]RawTrack, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(opts.Offset))
	if opts.Market != "" {
		q.Set("market", opts.Market)
	}

	var response struct {
		Tracks struct {
			Items []RawTrack `json:"items"`
		} `json:"tracks"`
	}

	if err := c.doAPI(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &response); err != nil {
		return nil, err
	}

	return response.Tracks.Items, nil
}

// GetArtist はアーティスト詳細を取得する。
func (c *Client) GetArtist(ctx context.Context, artistID string) (*ArtistMetadata, error) {
	var artist ArtistMetadata
	endpoint := fmt.Sprintf("/artists/%s", url.PathEscape(artistID))
	if err := c.doAPI(ctx, http.MethodGet, endpoint, nil, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// SaveTrack はトラックをユーザーのライブラリに保存する。
func (c *Client) SaveTrack(ctx context.Context, trackID string) error {
	endpoint := "/me/tracks?ids=" + url.QueryEscape(trackID)
	return c.doAPI(ctx, http.MethodPut, endpoint, nil, nil)
}

// AvailableGenres は検索に使えるシードジャンルの一覧を取得する。
// API失敗時は静的フォールバックリストを返す（エラーにしない）。
func (c *Client) AvailableGenres(ctx context.Context) ([]string, error) {
	var response struct {
		Genres []string `json:"genres"`
	}

	if err := c.doAPI(ctx, http.MethodGet, "/recommendations/available-genre-seeds", nil, &response); err != nil {
		c.factory.logger.Warn("ジャンル一覧の取得に失敗したため静的リストを返します",
			slog.String("error", err.Error()),
		)
		return DefaultGenres(), nil
	}

	return response.Genres, nil
}
