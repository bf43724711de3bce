package catalog

import "errors"

// カタログAPIのエラー分類。呼び出し元（トークン管理・レコメンドエンジン）が
// リフレッシュ・再認証・リトライのいずれに進むかをこの分類で判断する。
var (
	// ErrTokenRejected はアクセストークンが拒否された（401）ことを示す。
	// 呼び出し元は一度だけリフレッシュを試みる。
	ErrTokenRejected = errors.New("catalog: access token rejected")

	// ErrAccessRevoked はユーザーが連携を取り消した（403）ことを示す。
	// リフレッシュしても回復しない終端エラー。
	ErrAccessRevoked = errors.New("catalog: access revoked")

	// ErrRateLimited はレート制限（429）を示す。資格情報の状態は変更しない。
	ErrRateLimited = errors.New("catalog: rate limited")

	// ErrNotFound は対象リソースが存在しない（404）ことを示す。
	ErrNotFound = errors.New("catalog: resource not found")

	// ErrTransient はネットワーク障害や5xxなど一時的な失敗を示す。
	ErrTransient = errors.New("catalog: transient failure")
)
