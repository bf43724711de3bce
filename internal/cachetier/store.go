// Package cachetier は揮発性の高速キャッシュ層を提供する。
// ライトバックキャッシュ（prefcache、token）の下位ストアとして使われ、
// キーごとのTTLと、TTL満了を通知するコールバック機構を持つ。
package cachetier

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound はキーが存在しない（または期限切れの）場合に返される。
	ErrNotFound = errors.New("cachetier: key not found")
	// ErrUnavailable はキャッシュ層が利用できない場合に返される。
	// 呼び出し元はこのエラーを検出して永続ストア直接アクセスへ縮退する。
	ErrUnavailable = errors.New("cachetier: store unavailable")
)

// Store は高速キャッシュ層のインターフェース。
type Store interface {
	// Get はキーの値を取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL は値をTTL付きで書き込む。既存キーはTTLごと上書きされる。
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete は指定キーを削除する。存在しないキーは無視される。
	Delete(ctx context.Context, keys ...string) error

	// NotifyExpiry はキーのTTLが満了したときに呼ばれるコールバックを登録する。
	// SetWithTTLで書き直されたキーのタイマーは再装填され、Deleteで取り消される。
	// コールバックは専用ゴルーチンから呼ばれる。
	NotifyExpiry(fn func(key string))

	// Close はストアを閉じる。以後の操作はErrUnavailableを返す。
	Close() error
}
