// Package model はドメインモデルを定義する。
package model

import "time"

// ArtistRef はユーザーの好み（好き/嫌い）に登録されたアーティストを表す。
type ArtistRef struct {
	ArtistID  string    `json:"artistId"`
	Name      string    `json:"name"`
	Genre     string    `json:"genre,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackRef はユーザーの好みに登録された楽曲を表す。
type TrackRef struct {
	SongID      string    `json:"songId"`
	Name        string    `json:"name"`
	Artist      string    `json:"artist"`
	ArtistID    string    `json:"artistId"`
	Genre       string    `json:"genre,omitempty"`
	Mood        string    `json:"mood,omitempty"`
	URI         string    `json:"uri"`
	AlbumArt    string    `json:"album_art,omitempty"`
	ExternalURL string    `json:"external_url,omitempty"`
	Popularity  int       `json:"popularity,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SavedTrackRef はユーザーが画像付きで保存した楽曲を表す。
// Imageにはユーザーがアップロードした画像のバイト列が添付される。
type SavedTrackRef struct {
	TrackRef
	Image     []byte `json:"image,omitempty"`
	ImageType string `json:"imageType,omitempty"`
}

// Preferences はユーザーごとの音楽の好みドキュメントを表す。
// キャッシュ層と永続ストアの両方でJSONとしてシリアライズされる。
// 不変条件: 同一のartistId/songIdはliked/dislikedのどちらか一方にしか現れない。
type Preferences struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	LikedArtists    []ArtistRef     `json:"likedArtists"`
	DislikedArtists []ArtistRef     `json:"dislikedArtists"`
	LikedSongs      []TrackRef      `json:"likedSongs"`
	DislikedSongs   []TrackRef      `json:"dislikedSongs"`
	SavedSongs      []SavedTrackRef `json:"savedSongs"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// NewPreferences は空の好みドキュメントを生成する。
// 初回のフィードバックまたは初回の読み出し時に遅延作成される。
func NewPreferences(id, userID string) *Preferences {
	now := time.Now()
	return &Preferences{
		ID:              id,
		UserID:          userID,
		LikedArtists:    []ArtistRef{},
		DislikedArtists: []ArtistRef{},
		LikedSongs:      []TrackRef{},
		DislikedSongs:   []TrackRef{},
		SavedSongs:      []SavedTrackRef{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AddLikedSong は楽曲を「好き」リストに追加する。
// 同じ楽曲が「嫌い」リストにあれば取り除く（相互排他）。既に登録済みなら何もしない。
func (p *Preferences) AddLikedSong(song TrackRef) {
	p.DislikedSongs = removeSong(p.DislikedSongs, song.SongID)
	if !containsSong(p.LikedSongs, song.SongID) {
		song.Timestamp = time.Now()
		p.LikedSongs = append(p.LikedSongs, song)
	}
}

// AddDislikedSong は楽曲を「嫌い」リストに追加する。
// 同じ楽曲が「好き」リストにあれば取り除く（相互排他）。既に登録済みなら何もしない。
func (p *Preferences) AddDislikedSong(song TrackRef) {
	p.LikedSongs = removeSong(p.LikedSongs, song.SongID)
	if !containsSong(p.DislikedSongs, song.SongID) {
		song.Timestamp = time.Now()
		p.DislikedSongs = append(p.DislikedSongs, song)
	}
}

// AddLikedArtist はアーティストを「好き」リストに追加する。
// 「嫌い」リストにあれば取り除く（相互排他）。既に登録済みなら何もしない。
func (p *Preferences) AddLikedArtist(artist ArtistRef) {
	p.DislikedArtists = removeArtist(p.DislikedArtists, artist.ArtistID)
	if !containsArtist(p.LikedArtists, artist.ArtistID) {
		artist.Timestamp = time.Now()
		p.LikedArtists = append(p.LikedArtists, artist)
	}
}

// AddDislikedArtist はアーティストを「嫌い」リストに追加する。
// 「好き」リストにあれば取り除く（相互排他）。既に登録済みなら何もしない。
func (p *Preferences) AddDislikedArtist(artist ArtistRef) {
	p.LikedArtists = removeArtist(p.LikedArtists, artist.ArtistID)
	if !containsArtist(p.DislikedArtists, artist.ArtistID) {
		artist.Timestamp = time.Now()
		p.DislikedArtists = append(p.DislikedArtists, artist)
	}
}

// AddSavedSong は画像付き保存楽曲を追加する。既に保存済みなら何もしない。
func (p *Preferences) AddSavedSong(song TrackRef, image []byte, imageType string) {
	for _, s := range p.SavedSongs {
		if s.SongID == song.SongID {
			return
		}
	}
	song.Timestamp = time.Now()
	p.SavedSongs = append(p.SavedSongs, SavedTrackRef{
		TrackRef:  song,
		Image:     image,
		ImageType: imageType,
	})
}

// RemoveSavedSong は保存楽曲を削除する。
func (p *Preferences) RemoveSavedSong(songID string) {
	kept := p.SavedSongs[:0]
	for _, s := range p.SavedSongs {
		if s.SongID != songID {
			kept = append(kept, s)
		}
	}
	p.SavedSongs = kept
}

// RemoveSongFromHistory は楽曲をliked/dislikedの両リストから削除する。
// songIdの一致に加えて、URI末尾に埋め込まれたトラックIDの一致でも削除する。
func (p *Preferences) RemoveSongFromHistory(songID string) {
	p.LikedSongs = removeSongByIDOrURI(p.LikedSongs, songID)
	p.DislikedSongs = removeSongByIDOrURI(p.DislikedSongs, songID)
}

// RemoveArtist はアーティストをliked/dislikedの両リストから削除する。
func (p *Preferences) RemoveArtist(artistID string) {
	p.LikedArtists = removeArtist(p.LikedArtists, artistID)
	p.DislikedArtists = removeArtist(p.DislikedArtists, artistID)
}

// HasLikedArtist は指定アーティストが「好き」リストにあるかを返す。
func (p *Preferences) HasLikedArtist(artistID string) bool {
	return containsArtist(p.LikedArtists, artistID)
}

// HasDislikedArtist は指定アーティストが「嫌い」リストにあるかを返す。
func (p *Preferences) HasDislikedArtist(artistID string) bool {
	return containsArtist(p.DislikedArtists, artistID)
}

func containsSong(songs []TrackRef, songID string) bool {
	for _, s := range songs {
		if s.SongID == songID {
			return true
		}
	}
	return false
}

func removeSong(songs []TrackRef, songID string) []TrackRef {
	kept := songs[:0]
	for _, s := range songs {
		if s.SongID != songID {
			kept = append(kept, s)
		}
	}
	return kept
}

func removeSongByIDOrURI(songs []TrackRef, songID string) []TrackRef {
	kept := songs[:0]
	for _, s := range songs {
		if s.SongID == songID || TrackIDFromURI(s.URI) == songID {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func containsArtist(artists []ArtistRef, artistID string) bool {
	for _, a := range artists {
		if a.ArtistID == artistID {
			return true
		}
	}
	return false
}

func removeArtist(artists []ArtistRef, artistID string) []ArtistRef {
	kept := artists[:0]
	for _, a := range artists {
		if a.ArtistID != artistID {
			kept = append(kept, a)
		}
	}
	return kept
}
