// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthExpired     = "AUTH_EXPIRED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeNoTracksFound   = "NO_TRACKS_FOUND"
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeImageAnalysis   = "IMAGE_ANALYSIS_FAILED"
	ErrCodeCatalogFailed   = "CATALOG_REQUEST_FAILED"
	ErrCodeArtistNotFound  = "ARTIST_NOT_FOUND"
)

// NewAuthExpiredError は外部カタログの再認証が必要なエラーを生成する。
// トークンのリフレッシュ失敗、リフレッシュトークン未保持、アクセス失効の
// いずれでも同じコードを返し、呼び出し元は再ログイン導線へ誘導する。
func NewAuthExpiredError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpired,
		Message:  fmt.Sprintf("音楽カタログとの連携が無効になりました: %s", reason),
		Category: "auth",
		Action:   "音楽サービスと再連携してください。",
	}
}

// NewRateLimitedError は外部カタログAPIのレート制限エラーを生成する。
// 資格情報の状態は変更しない一時的エラー。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "音楽カタログAPIのレート制限に達しました。",
		Category: "catalog",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNoTracksFoundError は検索条件を緩和しても候補が見つからなかった場合のエラーを生成する。
func NewNoTracksFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNoTracksFound,
		Message:  "現在の条件に合う楽曲が見つかりませんでした。",
		Category: "catalog",
		Action:   "ジャンルやムードなどの条件を変えて再度お試しください。",
	}
}

// NewValidationError は外部呼び出し前の入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationError,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewImageAnalysisError は画像解析ワーカーの失敗エラーを生成する。
func NewImageAnalysisError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeImageAnalysis,
		Message:  fmt.Sprintf("画像の解析に失敗しました: %s", reason),
		Category: "system",
		Action:   "別の画像でお試しください。",
	}
}

// NewCatalogFailedError はカタログAPI呼び出しの失敗エラーを生成する。
func NewCatalogFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCatalogFailed,
		Message:  fmt.Sprintf("音楽カタログAPIの呼び出しに失敗しました: %s", reason),
		Category: "catalog",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewArtistNotFoundError はアーティストが見つからない場合のエラーを生成する。
func NewArtistNotFoundError(artistID string) *APIError {
	return &APIError{
		Code:     ErrCodeArtistNotFound,
		Message:  fmt.Sprintf("指定されたアーティストが見つかりません: %s", artistID),
		Category: "catalog",
		Action:   "アーティストIDを確認してください。",
	}
}

// IsAuthExpired はエラーがAUTH_EXPIREDかどうかを判定する。
// 認証エラーは他のエラーと異なり、リトライやフォールバックで吸収してはならない。
func IsAuthExpired(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeAuthExpired
	}
	return false
}

// IsRateLimited はエラーがRATE_LIMITEDかどうかを判定する。
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeRateLimited
	}
	return false
}

// IsNoTracksFound はエラーがNO_TRACKS_FOUNDかどうかを判定する。
func IsNoTracksFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeNoTracksFound
	}
	return false
}
