package recommend

import "github.com/hitoshi/tunepick/internal/model"

// Request はクライアントが明示的に指定する検索条件。
type Request struct {
	Genre              string   `json:"genre"`
	Mood               string   `json:"mood"`
	Language           string   `json:"language"`
	Popularity         string   `json:"popularity"` // mainstream / rising / underground / undiscovered
	Artist             string   `json:"artist"`
	AllowedVersions    []string `json:"allowedVersions"`
	PreferredMoods     []string `json:"preferredMoods"`
	PreferredLanguages []string `json:"preferredLanguages"`
	Skip               int      `json:"skip"`
}

// Snapshot は画像ヒント・明示指定・保存済みの好みを統合した検索条件。
// 条件緩和リトライの過程でフィールドが落とされていく。
type Snapshot struct {
	Mood       string
	Genre      string
	Language   string
	Popularity string
	Artist     string
	Market     string

	AllowedVersions    []string
	PreferredMoods     []string
	PreferredLanguages []string

	LikedArtists    []model.ArtistRef
	DislikedArtists []model.ArtistRef
	LikedSongs      []model.TrackRef
	DislikedSongs   []model.TrackRef
}

// clone は条件緩和用の浅いコピーを返す。
// リストは読み取り専用なので共有してよい。
func (s *Snapshot) clone() *Snapshot {
	copied := *s
	return &copied
}

// allowsVersion は指定の変種キーが許可リストに含まれるかを返す。
func (s *Snapshot) allowsVersion(key string) bool {
	for _, v := range s.AllowedVersions {
		if v == key {
			return true
		}
	}
	return false
}
