// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/tunepick/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// CredentialRepository は外部カタログ資格情報の永続化インターフェース。
// 行はユーザーごとに1行で、削除されることはない（トークンのnull化で失効を表す）。
type CredentialRepository interface {
	// Find は指定ユーザーの資格情報を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.Credential, error)

	// Save は資格情報を冪等にUPSERTする。
	Save(ctx context.Context, cred *model.Credential) error

	// FindByExternalAccountID は外部アカウントIDで資格情報を検索する。
	// 連携コールバックで既存ユーザーを特定するために使う。見つからない場合はnilを返す。
	FindByExternalAccountID(ctx context.Context, externalAccountID string) (*model.Credential, error)
}

// PreferenceRepository はユーザーの好みドキュメントの永続化インターフェース。
type PreferenceRepository interface {
	// Find は指定ユーザーの好みドキュメントを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.Preferences, error)

	// Save は好みドキュメントを冪等にUPSERTする。
	Save(ctx context.Context, prefs *model.Preferences) error
}
