// Package model はドメインモデルを定義する。
package model

import "strings"

// Candidate は1リクエスト内で生成される推薦候補楽曲を表す。
// 永続化されないリクエストスコープの値。
type Candidate struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Artist      string `json:"artist"`
	ArtistID    string `json:"artist_id"`
	PreviewURL  string `json:"preview_url,omitempty"`
	ExternalURL string `json:"external_url"`
	AlbumArt    string `json:"album_art,omitempty"`
	Popularity  int    `json:"popularity"`
	Genre       string `json:"genre,omitempty"`
	Mood        string `json:"mood,omitempty"`
	Language    string `json:"language,omitempty"`
	Score       int    `json:"score"`
}

// TrackID はURI末尾に埋め込まれたトラックIDを返す。
// 例: "spotify:track:4x63W2sLNrtBsJYt5x1vA" -> "4x63W2sLNrtBsJYt5x1vA"
func (c *Candidate) TrackID() string {
	return TrackIDFromURI(c.URI)
}

// TrackIDFromURI はカタログURIの末尾セグメントをトラックIDとして返す。
// コロン区切りでない文字列の場合は空文字を返す。
func TrackIDFromURI(uri string) string {
	parts := strings.Split(uri, ":")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
