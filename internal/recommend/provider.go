package recommend

import (
	"context"

	"github.com/hitoshi/tunepick/internal/token"
)

// ManagerProvider はtoken.ManagerをClientProviderに適合させる。
type ManagerProvider struct {
	Manager *token.Manager
}

var _ ClientProvider = (*ManagerProvider)(nil)

// AcquireClient は有効なカタログクライアントを取得する。
func (p *ManagerProvider) AcquireClient(ctx context.Context, userID string) (CatalogClient, error) {
	client, err := p.Manager.AcquireClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Country は保存された資格情報の国コードを返す。
func (p *ManagerProvider) Country(ctx context.Context, userID string) string {
	return p.Manager.Country(ctx, userID)
}
