package catalog

// Spotify Web APIのレスポンス型。
// https://developer.spotify.com/documentation/web-api/reference/ に基づく。

// Image は画像リソースを表す。
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// RawArtist は検索結果に含まれるアーティストの簡易表現。
type RawArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// RawAlbum は検索結果に含まれるアルバムの簡易表現。
type RawAlbum struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// RawTrack は検索APIが返すトラック。スコアリング前の候補の素材になる。
type RawTrack struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	URI          string       `json:"uri"`
	Artists      []RawArtist  `json:"artists"`
	Album        RawAlbum     `json:"album"`
	Popularity   int          `json:"popularity"`
	PreviewURL   string       `json:"preview_url"`
	ExternalURLs externalURLs `json:"external_urls"`
}

// ExternalURL はトラックのWeb再生用URLを返す。
func (t *RawTrack) ExternalURL() string {
	return t.ExternalURLs.Spotify
}

// ArtistMetadata はアーティスト詳細APIのレスポンス。
// 抑制カタログのハイドレーションで名前とジャンルを補完するために使う。
type ArtistMetadata struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
	URI    string   `json:"uri"`
}

// Profile は認証ユーザーのプロフィール。
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
}

// TokenPair はトークンリフレッシュの結果。
// RefreshTokenは返却されない場合があり、その際は既存の値を維持する。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// SearchOptions は検索APIのページング・地域指定。
type SearchOptions struct {
	Limit  int
	Offset int
	Market string
}
