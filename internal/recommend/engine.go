package recommend

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/tunepick/internal/catalog"
	"github.com/hitoshi/tunepick/internal/metrics"
	"github.com/hitoshi/tunepick/internal/model"
	"github.com/hitoshi/tunepick/internal/vision"
)

const (
	// maxRetries は条件緩和・スキップ増加リトライの上限。
	maxRetries = 3

	// searchLimit は1回の検索で取得する候補数。
	searchLimit = 50

	// offsetJitter は検索オフセットに加えるランダム幅。
	// 常に先頭ページばかりが再浮上するのを防ぐ。
	offsetJitter = 200

	// skipStep はフィルタ全滅時に結果空間を先へ進める幅。
	skipStep = 50
)

// unwantedVariants はタイトルで除外する変種語の表。
// キーが許可リストに含まれる場合のみ除外を免除する。
var unwantedVariants = []struct {
	key   string
	terms []string
}{
	{"lofi", []string{"lofi", "lo fi", "lo-fi"}},
	{"instrumental", []string{"instrumental"}},
	{"reverb", []string{"reverb"}},
	{"remix", []string{"remix", "mix"}},
	{"sped-up", []string{"sped up"}},
	{"study", []string{"study"}},
	{"mashup", []string{"mashup"}},
	{"stereo", []string{"stereo"}},
	{"acoustic", []string{"acoustic"}},
	{"beats", []string{"beats"}},
	{"slowed", []string{"slowed"}},
	{"cover", []string{"cover"}},
	{"live", []string{"live"}},
	{"extended", []string{"extended"}},
}

// fallbackCandidates はパイプライン失敗時に返す普遍的に安全なトラック。
var fallbackCandidates = []model.Candidate{
	{
		Name:        "River Flows In You",
		Artist:      "Yiruma",
		URI:         "spotify:track:4x63W2sLNrtBsJYt5x1vA",
		PreviewURL:  "https://p.scdn.co/mp3-preview/river-flows-in-you",
		ExternalURL: "https://open.spotify.com/track/4x63W2sLNrtBsJYt5x1vA",
		AlbumArt:    "https://i.scdn.co/image/ab67616d0000b273e2f",
	},
	{
		Name:        "Gymnopédie No. 1",
		Artist:      "Erik Satie",
		URI:         "spotify:track:5NGtFXVpXSvwunEIGeviY3",
		PreviewURL:  "https://p.scdn.co/mp3-preview/gymnopedie-no-1",
		ExternalURL: "https://open.spotify.com/track/5NGtFXVpXSvwunEIGeviY3",
		AlbumArt:    "https://i.scdn.co/image/ab67616d0000b273f0e",
	},
}

// CatalogClient はエンジンがカタログAPIに要求する操作。
type CatalogClient interface {
	SearchTracks(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error)
	GetArtist(ctx context.Context, artistID string) (*catalog.ArtistMetadata, error)
	AvailableGenres(ctx context.Context) ([]string, error)
}

// ClientProvider は有効なカタログクライアントの供給者。
// トークンのライフサイクル管理が背後で行われる。
type ClientProvider interface {
	AcquireClient(ctx context.Context, userID string) (CatalogClient, error)
	Country(ctx context.Context, userID string) string
}

// PreferenceReader は好みドキュメントの読み出しに必要な操作。
type PreferenceReader interface {
	Get(ctx context.Context, userID string) (*model.Preferences, error)
}

// Engine は楽曲レコメンドのパイプライン全体を駆動する。
type Engine struct {
	provider    ClientProvider
	prefs       PreferenceReader
	suppression *SuppressionCatalog
	logger      *slog.Logger
	metrics     metrics.MetricsCollector

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine はEngine の新しいインスタンスを生成する。
func NewEngine(provider ClientProvider, prefs PreferenceReader, suppression *SuppressionCatalog, collector metrics.MetricsCollector, logger *slog.Logger) *Engine {
	return &Engine{
		provider:    provider,
		prefs:       prefs,
		suppression: suppression,
		logger:      logger,
		metrics:     collector,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Recommend はユーザーへの推薦トラックのランク済みリストを返す。
// 認証エラーとレート制限は常に伝播する。それ以外のパイプライン失敗は
// 静的フォールバックトラックで吸収する。
func (e *Engine) Recommend(ctx context.Context, userID string, hint *vision.Analysis, req Request) ([]model.Candidate, error) {
	e.suppression.Housekeep()

	client, err := e.provider.AcquireClient(ctx, userID)
	if err != nil {
		if model.IsAuthExpired(err) || model.IsRateLimited(err) {
			return nil, err
		}
		e.logger.Error("カタログクライアントの取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return e.fallback(), nil
	}

	prefsDoc, err := e.prefs.Get(ctx, userID)
	if err != nil {
		e.logger.Error("好みドキュメントの読み出しに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return e.fallback(), nil
	}

	snap := e.combine(ctx, userID, hint, req, prefsDoc)

	if len(snap.DislikedArtists) > 0 {
		e.suppression.HydrateDislikedArtists(ctx, snap.DislikedArtists, client)
	}

	candidates, err := e.findSuitable(ctx, client, snap, req.Skip, 0)
	if err != nil {
		if model.IsAuthExpired(err) || model.IsRateLimited(err) {
			return nil, err
		}
		e.logger.Warn("検索パイプラインが失敗したためフォールバックトラックを返します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return e.fallback(), nil
	}

	e.metrics.RecordRecommendation()
	return candidates, nil
}

// Genres は検索に使えるシードジャンルの一覧を返す。
// クライアントを取得できない場合も静的リストで応答する。
func (e *Engine) Genres(ctx context.Context, userID string) []string {
	client, err := e.provider.AcquireClient(ctx, userID)
	if err != nil {
		return catalog.DefaultGenres()
	}

	genres, err := client.AvailableGenres(ctx)
	if err != nil {
		return catalog.DefaultGenres()
	}
	return genres
}

// combine は画像ヒント・明示指定・保存済みの好みを1つのスナップショットへ統合する。
// ムードは画像ヒント優先、ジャンルは明示指定優先。
func (e *Engine) combine(ctx context.Context, userID string, hint *vision.Analysis, req Request, prefsDoc *model.Preferences) *Snapshot {
	snap := &Snapshot{
		Mood:               req.Mood,
		Genre:              req.Genre,
		Language:           req.Language,
		Popularity:         req.Popularity,
		Artist:             req.Artist,
		AllowedVersions:    req.AllowedVersions,
		PreferredMoods:     req.PreferredMoods,
		PreferredLanguages: req.PreferredLanguages,
	}

	if hint != nil {
		if hint.Mood != "" {
			snap.Mood = hint.Mood
		}
		if snap.Genre == "" {
			snap.Genre = hint.Genre
		}
	}

	snap.Market = marketFor(e.provider.Country(ctx, userID), snap.Language)

	if prefsDoc != nil {
		snap.LikedArtists = prefsDoc.LikedArtists
		snap.DislikedArtists = prefsDoc.DislikedArtists
		snap.LikedSongs = prefsDoc.LikedSongs
		snap.DislikedSongs = prefsDoc.DislikedSongs
	}

	return snap
}

// findSuitable は検索・フィルタ・スコアリングを実行する。
// 生結果が空なら条件を緩和して、フィルタ全滅ならスキップを進めて、
// それぞれ同じリトライ予算内で再試行する。
func (e *Engine) findSuitable(ctx context.Context, client CatalogClient, prefs *Snapshot, skip, retry int) ([]model.Candidate, error) {
	query := buildQuery(prefs, skip)

	raw, err := client.SearchTracks(ctx, query, catalog.SearchOptions{
		Limit:  searchLimit,
		Offset: skip + e.randIntn(offsetJitter),
		Market: prefs.Market,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrAccessRevoked), errors.Is(err, catalog.ErrTokenRejected):
			return nil, model.NewAuthExpiredError("カタログへのアクセスが拒否されました")
		case errors.Is(err, catalog.ErrRateLimited):
			return nil, model.NewRateLimitedError()
		default:
			return nil, model.NewCatalogFailedError(err.Error())
		}
	}

	if len(raw) == 0 {
		if retry < maxRetries {
			e.metrics.RecordSearchRetry()
			e.logger.Info("検索結果が空のため条件を緩和して再試行します",
				slog.String("query", query),
				slog.Int("retry", retry+1),
			)
			return e.findSuitable(ctx, client, broaden(prefs, retry+1), skip, retry+1)
		}
		return nil, model.NewNoTracksFoundError()
	}

	candidates := e.filterAndProcess(raw, prefs)

	if len(candidates) == 0 {
		if retry < maxRetries {
			e.metrics.RecordSearchRetry()
			e.logger.Info("フィルタで全滅したためスキップを進めて再試行します",
				slog.String("query", query),
				slog.Int("retry", retry+1),
			)
			return e.findSuitable(ctx, client, prefs, skip+skipStep, retry+1)
		}
		return nil, model.NewNoTracksFoundError()
	}

	e.shuffle(candidates)

	for i := range candidates {
		candidates[i].Score = Score(&candidates[i], prefs)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return candidates, nil
}

// filterAndProcess は生の検索結果から候補を選別する。
// 提案済みトラック・抑制アーティスト・不要な変種タイトルを除外し、
// 生き残った候補を提案済みとして記録する。
func (e *Engine) filterAndProcess(raw []catalog.RawTrack, prefs *Snapshot) []model.Candidate {
	candidates := make([]model.Candidate, 0, len(raw))

	for _, track := range raw {
		if e.suppression.WasSuggested(track.URI) {
			continue
		}
		if len(track.Artists) == 0 {
			continue
		}
		if e.suppression.IsArtistDisliked(track.Artists[0].ID) {
			continue
		}
		if hasUnwantedVariant(track.Name, prefs) {
			continue
		}

		e.suppression.MarkSuggested(track.URI)

		albumArt := ""
		if len(track.Album.Images) > 0 {
			albumArt = track.Album.Images[0].URL
		}

		candidates = append(candidates, model.Candidate{
			URI:         track.URI,
			Name:        track.Name,
			Artist:      track.Artists[0].Name,
			ArtistID:    track.Artists[0].ID,
			PreviewURL:  track.PreviewURL,
			ExternalURL: track.ExternalURL(),
			AlbumArt:    albumArt,
			Popularity:  track.Popularity,
			Genre:       prefs.Genre,
			Mood:        prefs.Mood,
			Language:    prefs.Language,
		})
	}

	return candidates
}

// hasUnwantedVariant はタイトルが除外対象の変種語を含むかを返す。
func hasUnwantedVariant(title string, prefs *Snapshot) bool {
	lower := strings.ToLower(title)
	for _, variant := range unwantedVariants {
		if prefs.allowsVersion(variant.key) {
			continue
		}
		for _, term := range variant.terms {
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}

// shuffle はFisher–Yatesで候補を均等に混ぜる。
// 同スコアの並びが安定した悪用可能な順序にならないようにする。
func (e *Engine) shuffle(candidates []model.Candidate) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	for i := len(candidates) - 1; i > 0; i-- {
		j := e.rng.Intn(i + 1)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
}

// fallback は静的フォールバックトラックを1件返す。
func (e *Engine) fallback() []model.Candidate {
	e.metrics.RecordFallback()
	track := fallbackCandidates[e.randIntn(len(fallbackCandidates))]
	return []model.Candidate{track}
}

func (e *Engine) randIntn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}
