package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tunepick/internal/catalog"
	"github.com/hitoshi/tunepick/internal/metrics"
	"github.com/hitoshi/tunepick/internal/model"
)

// mockCatalogClient はCatalogClientのモック。
type mockCatalogClient struct {
	searchTracksFunc    func(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error)
	getArtistFunc       func(ctx context.Context, artistID string) (*catalog.ArtistMetadata, error)
	availableGenresFunc func(ctx context.Context) ([]string, error)
	searchCalls         int
}

func (m *mockCatalogClient) SearchTracks(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error) {
	m.searchCalls++
	if m.searchTracksFunc != nil {
		return m.searchTracksFunc(ctx, query, opts)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCatalogClient) GetArtist(ctx context.Context, artistID string) (*catalog.ArtistMetadata, error) {
	if m.getArtistFunc != nil {
		return m.getArtistFunc(ctx, artistID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCatalogClient) AvailableGenres(ctx context.Context) ([]string, error) {
	if m.availableGenresFunc != nil {
		return m.availableGenresFunc(ctx)
	}
	return nil, errors.New("not implemented")
}

// mockProvider はClientProviderのモック。
type mockProvider struct {
	acquireClientFunc func(ctx context.Context, userID string) (CatalogClient, error)
	country           string
}

func (m *mockProvider) AcquireClient(ctx context.Context, userID string) (CatalogClient, error) {
	if m.acquireClientFunc != nil {
		return m.acquireClientFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockProvider) Country(ctx context.Context, userID string) string {
	return m.country
}

// mockPrefReader はPreferenceReaderのモック。
type mockPrefReader struct {
	getFunc func(ctx context.Context, userID string) (*model.Preferences, error)
}

func (m *mockPrefReader) Get(ctx context.Context, userID string) (*model.Preferences, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID)
	}
	return model.NewPreferences("pref-1", userID), nil
}

func newTestEngine(provider ClientProvider, prefs PreferenceReader) *Engine {
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewEngine(provider, prefs, NewSuppressionCatalog(testLogger()), collector, testLogger())
}

func rawTrack(id, name, artistID, artistName string, popularity int) catalog.RawTrack {
	return catalog.RawTrack{
		ID:         id,
		Name:       name,
		URI:        "spotify:track:" + id,
		Popularity: popularity,
		Artists:    []catalog.RawArtist{{ID: artistID, Name: artistName}},
	}
}

func TestFindSuitable_EmptyResultsRetryCeiling(t *testing.T) {
	client := &mockCatalogClient{
		searchTracksFunc: func(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error) {
			return nil, nil
		},
	}
	e := newTestEngine(&mockProvider{}, &mockPrefReader{})

	_, err := e.findSuitable(context.Background(), client, &Snapshot{Genre: "jazz", Market: "US"}, 0, 0)

	if !model.IsNoTracksFound(err) {
		t.Fatalf("err = %v, want NO_TRACKS_FOUND", err)
	}
	// 初回 + リトライ3回
	if client.searchCalls != maxRetries+1 {
		t.Errorf("searchCalls = %d, want %d", client.searchCalls, maxRetries+1)
	}
}

func TestFindSuitable_AllFilteredAdvancesSkip(t *testing.T) {
	offsets := []int{}
	client := &mockCatalogClient{
		searchTracksFunc: func(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error) {
			offsets = append(offsets, opts.Offset)
			// 全件が抑制アーティストの曲
			return []catalog.RawTrack{rawTrack("t1", "Song", "hated", "Hated Artist", 50)}, nil
		},
	}
	e := newTestEngine(&mockProvider{}, &mockPrefReader{})
	e.suppression.HydrateDislikedArtists(context.Background(), []model.ArtistRef{
		{ArtistID: "hated", Name: "Hated Artist"},
	}, client)

	_, err := e.findSuitable(context.Background(), client, &Snapshot{Genre: "jazz"}, 0, 0)

	if !model.IsNoTracksFound(err) {
		t.Fatalf("err = %v, want NO_TRACKS_FOUND", err)
	}
	// GetArtist未実装による呼び出しはないのでsearchCallsはリトライ分のみ
	if len(offsets) != maxRetries+1 {
		t.Fatalf("検索回数 = %d, want %d", len(offsets), maxRetries+1)
	}
	// オフセットにはジッタが乗るが、スキップの単調増加で下限が上がる
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < i*skipStep {
			t.Errorf("offsets[%d] = %d, want >= %d", i, offsets[i], i*skipStep)
		}
	}
}

func TestFilterAndProcess_SuppressesDislikedArtist(t *testing.T) {
	e := newTestEngine(&mockProvider{}, &mockPrefReader{})
	e.suppression.HydrateDislikedArtists(context.Background(), []model.ArtistRef{
		{ArtistID: "bad", Name: "Bad Artist"},
	}, &mockCatalogClient{})

	raw := []catalog.RawTrack{
		rawTrack("t1", "Great Song", "bad", "Bad Artist", 99),
		rawTrack("t2", "Other Song", "good", "Good Artist", 10),
	}

	candidates := e.filterAndProcess(raw, &Snapshot{})

	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}
	if candidates[0].ArtistID != "good" {
		t.Errorf("抑制アーティストの曲が通過した: %+v", candidates[0])
	}
}

func TestFilterAndProcess_SkipsPreviouslySuggested(t *testing.T) {
	e := newTestEngine(&mockProvider{}, &mockPrefReader{})
	raw := []catalog.RawTrack{rawTrack("t1", "Song", "a1", "Artist", 50)}

	first := e.filterAndProcess(raw, &Snapshot{})
	second := e.filterAndProcess(raw, &Snapshot{})

	if len(first) != 1 {
		t.Fatalf("初回の候補数 = %d, want 1", len(first))
	}
	if len(second) != 0 {
		t.Errorf("提案済みトラックが再度通過した: %+v", second)
	}
}

func TestFilterAndProcess_UnwantedVariants(t *testing.T) {
	e := newTestEngine(&mockProvider{}, &mockPrefReader{})

	raw := []catalog.RawTrack{
		rawTrack("t1", "Song Title (Live at Budokan)", "a1", "Artist", 50),
		rawTrack("t2", "Song Title - Acoustic Version", "a2", "Artist", 50),
		rawTrack("t3", "Song Title", "a3", "Artist", 50),
	}

	candidates := e.filterAndProcess(raw, &Snapshot{})

	if len(candidates) != 1 || candidates[0].URI != "spotify:track:t3" {
		t.Fatalf("変種タイトルが除外されていない: %+v", candidates)
	}
}

func TestFilterAndProcess_AllowedVersionExempts(t *testing.T) {
	e := newTestEngine(&mockProvider{}, &mockPrefReader{})

	raw := []catalog.RawTrack{
		rawTrack("t1", "Song Title - Acoustic Version", "a1", "Artist", 50),
	}

	candidates := e.filterAndProcess(raw, &Snapshot{AllowedVersions: []string{"acoustic"}})

	if len(candidates) != 1 {
		t.Fatalf("許可リストにある変種が除外された: %+v", candidates)
	}
}

func TestRecommend_AuthExpiredPropagates(t *testing.T) {
	provider := &mockProvider{
		acquireClientFunc: func(ctx context.Context, userID string) (CatalogClient, error) {
			return nil, model.NewAuthExpiredError("session gone")
		},
	}
	e := newTestEngine(provider, &mockPrefReader{})

	_, err := e.Recommend(context.Background(), "u1", nil, Request{})

	if !model.IsAuthExpired(err) {
		t.Errorf("err = %v, want AUTH_EXPIRED", err)
	}
}

func TestRecommend_RateLimitedPropagatesFromSearch(t *testing.T) {
	client := &mockCatalogClient{
		searchTracksFunc: func(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error) {
			return nil, catalog.ErrRateLimited
		},
	}
	provider := &mockProvider{
		acquireClientFunc: func(ctx context.Context, userID string) (CatalogClient, error) {
			return client, nil
		},
	}
	e := newTestEngine(provider, &mockPrefReader{})

	_, err := e.Recommend(context.Background(), "u1", nil, Request{Genre: "jazz"})

	if !model.IsRateLimited(err) {
		t.Errorf("err = %v, want RATE_LIMITED", err)
	}
}

func TestRecommend_GenericFailureYieldsFallback(t *testing.T) {
	provider := &mockProvider{
		acquireClientFunc: func(ctx context.Context, userID string) (CatalogClient, error) {
			return nil, errors.New("database is down")
		},
	}
	e := newTestEngine(provider, &mockPrefReader{})

	candidates, err := e.Recommend(context.Background(), "u1", nil, Request{})

	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("フォールバックは1件: got %d", len(candidates))
	}
	found := false
	for _, fb := range fallbackCandidates {
		if fb.URI == candidates[0].URI {
			found = true
		}
	}
	if !found {
		t.Errorf("静的フォールバック以外のトラック: %+v", candidates[0])
	}
}

func TestRecommend_SearchExhaustionYieldsFallback(t *testing.T) {
	client := &mockCatalogClient{
		searchTracksFunc: func(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error) {
			return nil, nil
		},
	}
	provider := &mockProvider{
		acquireClientFunc: func(ctx context.Context, userID string) (CatalogClient, error) {
			return client, nil
		},
	}
	e := newTestEngine(provider, &mockPrefReader{})

	candidates, err := e.Recommend(context.Background(), "u1", nil, Request{Genre: "gregorian-chant"})

	if err != nil {
		t.Fatalf("リトライ尽きはフォールバックで吸収すべき: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}
}

func TestRecommend_SortsByScoreDescending(t *testing.T) {
	client := &mockCatalogClient{
		searchTracksFunc: func(ctx context.Context, query string, opts catalog.SearchOptions) ([]catalog.RawTrack, error) {
			return []catalog.RawTrack{
				rawTrack("t1", "Plain Song", "a1", "Unknown Artist", 40),
				rawTrack("t2", "Favorite Song", "fav", "Favorite Artist", 40),
			}, nil
		},
	}
	provider := &mockProvider{
		acquireClientFunc: func(ctx context.Context, userID string) (CatalogClient, error) {
			return client, nil
		},
		country: "JP",
	}
	prefs := &mockPrefReader{
		getFunc: func(ctx context.Context, userID string) (*model.Preferences, error) {
			doc := model.NewPreferences("pref-1", userID)
			doc.LikedArtists = []model.ArtistRef{{ArtistID: "fav", Name: "Favorite Artist"}}
			return doc, nil
		},
	}
	e := newTestEngine(provider, prefs)

	candidates, err := e.Recommend(context.Background(), "u1", nil, Request{Genre: "jazz"})

	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}
	if candidates[0].ArtistID != "fav" {
		t.Errorf("好きなアーティストの曲が先頭に来るべき: %+v", candidates)
	}
	if candidates[0].Score < candidates[1].Score {
		t.Errorf("スコア降順になっていない: %d < %d", candidates[0].Score, candidates[1].Score)
	}
}

func TestGenres_FallsBackWithoutClient(t *testing.T) {
	provider := &mockProvider{
		acquireClientFunc: func(ctx context.Context, userID string) (CatalogClient, error) {
			return nil, model.NewAuthExpiredError("not connected")
		},
	}
	e := newTestEngine(provider, &mockPrefReader{})

	genres := e.Genres(context.Background(), "u1")

	if len(genres) == 0 {
		t.Fatal("静的ジャンルリストが返るべき")
	}
	found := false
	for _, g := range genres {
		if g == "classical" {
			found = true
		}
	}
	if !found {
		t.Errorf("静的リストにclassicalが含まれるべき: %v", genres)
	}
}

func TestGenres_UsesCatalogWhenAvailable(t *testing.T) {
	client := &mockCatalogClient{
		availableGenresFunc: func(ctx context.Context) ([]string, error) {
			return []string{"shoegaze", "vaporwave"}, nil
		},
	}
	provider := &mockProvider{
		acquireClientFunc: func(ctx context.Context, userID string) (CatalogClient, error) {
			return client, nil
		},
	}
	e := newTestEngine(provider, &mockPrefReader{})

	genres := e.Genres(context.Background(), "u1")

	if len(genres) != 2 || genres[0] != "shoegaze" {
		t.Errorf("genres = %v", genres)
	}
}
