// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential は外部音楽カタログへの委任アクセス資格情報を表す。
// 連携成立時に1行作成され、以後トークンリフレッシュのたびに更新される。
// 行は削除されない。アクセス失効時はトークンをnull化して「要再認証」を表す。
type Credential struct {
	UserID            string `json:"userId"`
	ExternalAccountID string `json:"externalAccountId,omitempty"`
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	Country           string `json:"country,omitempty"`
	Dirty             bool   `json:"dirty"`
}

// Connected は再認証なしでカタログAPIを呼び出せる状態かどうかを返す。
func (c *Credential) Connected() bool {
	return c != nil && c.AccessToken != ""
}

// Invalidate はアクセス失効を記録する。トークンをnull化し、
// 永続化が必要であることを示すダーティビットを立てる。
func (c *Credential) Invalidate() {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.Dirty = true
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
