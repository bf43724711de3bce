package handler

import (
	"context"

	"github.com/hitoshi/tunepick/internal/token"
)

// ManagerLibrary はtoken.ManagerをTrackLibraryとして公開するアダプタ。
// ライブラリ保存のたびに有効なクライアントを取得してから実行する。
type ManagerLibrary struct {
	Manager *token.Manager
}

// SaveTrack は指定ユーザーのライブラリにトラックを保存する。
func (l *ManagerLibrary) SaveTrack(ctx context.Context, userID, trackID string) error {
	client, err := l.Manager.AcquireClient(ctx, userID)
	if err != nil {
		return err
	}
	return client.SaveTrack(ctx, trackID)
}

// compile-time interface check
var _ TrackLibrary = (*ManagerLibrary)(nil)
