// Package recommend は楽曲レコメンドエンジンを提供する。
// 検索クエリの構築、条件緩和リトライ、候補のフィルタリング、スコアリングを含む。
package recommend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/tunepick/internal/catalog"
	"github.com/hitoshi/tunepick/internal/model"
)

// suggestionBound は提案済みトラック集合の上限。
// 超過時は部分的な追い出しではなく全クリアする（同じトラックの再登場を許容する）。
const suggestionBound = 1000

// DislikedArtist は抑制カタログに登録されたアーティストのメタデータ。
type DislikedArtist struct {
	Name      string
	Genre     string
	FirstSeen time.Time
}

// ArtistFetcher はアーティストメタデータの取得に必要な操作。
type ArtistFetcher interface {
	GetArtist(ctx context.Context, artistID string) (*catalog.ArtistMetadata, error)
}

// SuppressionCatalog は候補の事前フィルタに使うプロセスローカルな抑制カタログ。
// 提案済みトラックの集合と、嫌いなアーティストのメタデータマップを保持する。
// プロセス間では共有されない（水平スケール時は各インスタンスが独立に持つ）。
type SuppressionCatalog struct {
	mu        sync.Mutex
	suggested map[string]struct{}
	disliked  map[string]DislikedArtist
	logger    *slog.Logger
}

// NewSuppressionCatalog はSuppressionCatalog の新しいインスタンスを生成する。
func NewSuppressionCatalog(logger *slog.Logger) *SuppressionCatalog {
	return &SuppressionCatalog{
		suggested: make(map[string]struct{}),
		disliked:  make(map[string]DislikedArtist),
		logger:    logger,
	}
}

// Housekeep は提案済み集合が上限を超えていたら全クリアする。
// リクエスト処理の冒頭で呼ぶ。
func (s *SuppressionCatalog) Housekeep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.suggested) > suggestionBound {
		s.logger.Info("提案済みトラック集合が上限を超えたためクリアします",
			slog.Int("size", len(s.suggested)),
		)
		s.suggested = make(map[string]struct{})
	}
}

// MarkSuggested はトラックURIを提案済みとして記録する。
func (s *SuppressionCatalog) MarkSuggested(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggested[uri] = struct{}{}
}

// WasSuggested はトラックURIが提案済みかどうかを返す。
func (s *SuppressionCatalog) WasSuggested(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suggested[uri]
	return ok
}

// IsArtistDisliked はアーティストが抑制対象かどうかを返す。
func (s *SuppressionCatalog) IsArtistDisliked(artistID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.disliked[artistID]
	return ok
}

// Len は提案済みトラック集合のサイズを返す。
func (s *SuppressionCatalog) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.suggested)
}

// Clear は両方の構造を空にする。
func (s *SuppressionCatalog) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggested = make(map[string]struct{})
	s.disliked = make(map[string]DislikedArtist)
}

// HydrateDislikedArtists は嫌いなアーティストのメタデータを遅延補充する。
// 名前付きのエントリはそのまま登録し、IDのみのエントリはカタログAPIから一度だけ取得する。
// 取得に失敗した場合もプレースホルダを登録し、抑制自体は効かせる。
func (s *SuppressionCatalog) HydrateDislikedArtists(ctx context.Context, refs []model.ArtistRef, fetcher ArtistFetcher) {
	for _, ref := range refs {
		if ref.ArtistID == "" {
			continue
		}

		s.mu.Lock()
		_, known := s.disliked[ref.ArtistID]
		s.mu.Unlock()
		if known {
			continue
		}

		if ref.Name != "" {
			s.register(ref.ArtistID, DislikedArtist{
				Name:      ref.Name,
				Genre:     ref.Genre,
				FirstSeen: time.Now(),
			})
			continue
		}

		meta, err := fetcher.GetArtist(ctx, ref.ArtistID)
		if err != nil {
			s.logger.Warn("アーティストメタデータの取得に失敗したためプレースホルダを登録します",
				slog.String("artist_id", ref.ArtistID),
				slog.String("error", err.Error()),
			)
			s.register(ref.ArtistID, DislikedArtist{
				Name:      "Unknown Artist",
				FirstSeen: time.Now(),
			})
			continue
		}

		genre := ""
		if len(meta.Genres) > 0 {
			genre = meta.Genres[0]
		}
		s.register(ref.ArtistID, DislikedArtist{
			Name:      meta.Name,
			Genre:     genre,
			FirstSeen: time.Now(),
		})
	}
}

func (s *SuppressionCatalog) register(artistID string, artist DislikedArtist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disliked[artistID] = artist
}
