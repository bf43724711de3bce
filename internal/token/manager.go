// Package token は外部カタログのアクセストークンのライフサイクルを管理する。
// 資格情報のライトバックキャッシュ、生存確認プローブ、1回限りのリフレッシュ、
// リフレッシュ失敗時のアクセストークンnull化を担う。
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/hitoshi/tunepick/internal/cachetier"
	"github.com/hitoshi/tunepick/internal/catalog"
	"github.com/hitoshi/tunepick/internal/metrics"
	"github.com/hitoshi/tunepick/internal/model"
	"github.com/hitoshi/tunepick/internal/repository"
)

const (
	credKeyPrefix     = "user:"
	credWarnKeyPrefix = "user:warning:"

	// credFlushMargin はメインキーTTL満了のどれだけ前に警告キーを失効させるか。
	// メインキーの満了時点ではエントリは既に読めないため、フラッシュは
	// 必ず警告キーの失効を契機に行う。
	credFlushMargin = 60 * time.Second

	// flushedTTL は警告キー失効を契機にフラッシュした後、
	// メインキーに付け直す短いTTL。
	flushedTTL = 60 * time.Second

	// expiryFlushTimeout は失効コールバック内の永続化処理のタイムアウト。
	expiryFlushTimeout = 10 * time.Second
)

// Manager は資格情報のライフサイクルを管理する。
// AcquireClientが返すクライアントは即座にAPI呼び出しに使える状態が保証される。
type Manager struct {
	store   cachetier.Store
	repo    repository.CredentialRepository
	factory *catalog.Factory
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	ttl     time.Duration
	warnTTL time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager はManager の新しいインスタンスを生成し、
// 警告キーの失効コールバックをキャッシュ層に登録する。
func NewManager(store cachetier.Store, repo repository.CredentialRepository, factory *catalog.Factory, collector metrics.MetricsCollector, logger *slog.Logger, ttl time.Duration) *Manager {
	warnTTL := ttl - credFlushMargin
	if warnTTL <= 0 {
		// TTLがマージンより短い場合は半分の時点で警告する
		warnTTL = ttl / 2
	}

	m := &Manager{
		store:   store,
		repo:    repo,
		factory: factory,
		logger:  logger,
		metrics: collector,
		ttl:     ttl,
		warnTTL: warnTTL,
		locks:   make(map[string]*sync.Mutex),
	}

	store.NotifyExpiry(m.onExpiry)

	return m
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

// AcquireClient は有効なアクセストークンを持つカタログクライアントを返す。
// 生存確認プローブが失敗した場合はちょうど1回だけリフレッシュを試み、
// リフレッシュも拒否された場合はアクセストークンをnull化してAUTH_EXPIREDを返す。
func (m *Manager) AcquireClient(ctx context.Context, userID string) (*catalog.Client, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.loadCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, model.NewAuthExpiredError("カタログ連携が未設定です")
	}
	if cred.AccessToken == "" {
		return nil, model.NewAuthExpiredError("アクセストークンが失効しています")
	}
	if cred.RefreshToken == "" {
		// リフレッシュ手段がないためプローブもリフレッシュも行わない
		return nil, model.NewAuthExpiredError("リフレッシュトークンがありません")
	}

	client := m.factory.Client(cred.AccessToken)

	probeErr := client.Me(ctx)
	if probeErr == nil {
		return client, nil
	}

	switch {
	case errors.Is(probeErr, catalog.ErrRateLimited):
		// 一時的エラー。資格情報の状態は変更しない。
		return nil, model.NewRateLimitedError()
	case errors.Is(probeErr, catalog.ErrAccessRevoked):
		// ユーザーが連携を取り消した。リフレッシュしても回復しない。
		cred.AccessToken = ""
		cred.Dirty = true
		if err := m.saveCredential(ctx, cred); err != nil {
			m.logger.Error("失効した資格情報の保存に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.NewAuthExpiredError("カタログへのアクセスが取り消されました")
	}

	// プローブ失敗: ちょうど1回だけリフレッシュを試みる
	pair, refreshErr := m.factory.RefreshToken(ctx, cred.RefreshToken)
	if refreshErr == nil {
		m.metrics.RecordTokenRefresh("success")
		cred.AccessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			cred.RefreshToken = pair.RefreshToken
		}
		cred.Dirty = true
		if err := m.saveCredential(ctx, cred); err != nil {
			m.logger.Error("リフレッシュ後の資格情報の保存に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		m.logger.Info("アクセストークンをリフレッシュしました",
			slog.String("user_id", userID),
		)
		return m.factory.Client(cred.AccessToken), nil
	}

	m.metrics.RecordTokenRefresh("failure")

	if errors.Is(refreshErr, catalog.ErrTransient) {
		// ネットワーク起因のリフレッシュ失敗では資格情報を壊さない
		return nil, model.NewCatalogFailedError("トークンのリフレッシュが一時的に失敗しました")
	}

	// リフレッシュ拒否: アクセストークンのみnull化し、リフレッシュトークンは残す
	m.logger.Warn("トークンリフレッシュが拒否されました。アクセストークンをnull化します",
		slog.String("user_id", userID),
	)
	cred.AccessToken = ""
	cred.Dirty = true
	if err := m.saveCredential(ctx, cred); err != nil {
		m.logger.Error("失効した資格情報の保存に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return nil, model.NewAuthExpiredError("トークンのリフレッシュに失敗しました")
}

// UpdateTokens は新しいトークンの組を記録する。
func (m *Manager) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.loadCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		return model.NewUserNotFoundError()
	}

	cred.AccessToken = accessToken
	if refreshToken != "" {
		cred.RefreshToken = refreshToken
	}
	cred.Dirty = true

	return m.saveCredential(ctx, cred)
}

// Invalidate は両トークンをnull化する。行は削除しない。
// 失効は即座に永続ストアへ書き込む。
func (m *Manager) Invalidate(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.loadCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}

	cred.Invalidate()

	if err := m.repo.Save(ctx, cred); err != nil {
		return fmt.Errorf("資格情報の失効の永続化に失敗しました: %w", err)
	}
	cred.Dirty = false

	return m.setCache(ctx, cred)
}

// StoreConnection は連携コールバック完了時の資格情報を記録する。
// ログインイベントは即座に永続ストアへ書き込む。
func (m *Manager) StoreConnection(ctx context.Context, userID, externalAccountID, accessToken, refreshToken, country string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred := &model.Credential{
		UserID:            userID,
		ExternalAccountID: externalAccountID,
		AccessToken:       accessToken,
		RefreshToken:      refreshToken,
		Country:           country,
	}

	if err := m.repo.Save(ctx, cred); err != nil {
		return fmt.Errorf("資格情報の保存に失敗しました: %w", err)
	}

	if err := m.setCache(ctx, cred); err != nil {
		m.logger.Warn("資格情報のキャッシュ書き込みに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Country は保存された資格情報の国コードを返す。未設定なら空文字。
func (m *Manager) Country(ctx context.Context, userID string) string {
	cred, err := m.loadCredential(ctx, userID)
	if err != nil || cred == nil {
		return ""
	}
	return cred.Country
}

// Sync はdirtyな資格情報を永続ストアへフラッシュする。
func (m *Manager) Sync(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return m.syncLocked(ctx, userID)
}

func (m *Manager) syncLocked(ctx context.Context, userID string) error {
	cred, err := m.loadCached(ctx, userID)
	if err != nil || cred == nil {
		return nil
	}
	if !cred.Dirty {
		return nil
	}

	if err := m.repo.Save(ctx, cred); err != nil {
		return fmt.Errorf("資格情報のフラッシュに失敗しました: %w", err)
	}

	cred.Dirty = false
	if err := m.setCache(ctx, cred); err != nil {
		m.logger.Warn("フラッシュ後の資格情報キャッシュ書き戻しに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Evict はフラッシュしてからキャッシュキーを削除する。ログアウト時に使う。
func (m *Manager) Evict(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.syncLocked(ctx, userID); err != nil {
		return err
	}

	if err := m.store.Delete(ctx, credKeyPrefix+userID, credWarnKeyPrefix+userID); err != nil {
		if errors.Is(err, cachetier.ErrUnavailable) {
			return nil
		}
		return err
	}

	return nil
}

// onExpiry は警告キーの失効を受けてdirtyな資格情報をフラッシュする。
// メインキーの満了時点ではエントリは既に読めないため、メインキーの失効には反応しない。
// フラッシュ後はメインキーを短いTTLで張り直し、直後の読み出しヒットを維持しつつ
// すみやかな自然失効を許す。
func (m *Manager) onExpiry(key string) {
	if !strings.HasPrefix(key, credWarnKeyPrefix) {
		return
	}
	userID := strings.TrimPrefix(key, credWarnKeyPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), expiryFlushTimeout)
	defer cancel()

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.loadCached(ctx, userID)
	if err != nil || cred == nil {
		return
	}
	if !cred.Dirty {
		return
	}

	m.logger.Info("TTL満了前にdirtyな資格情報をフラッシュします",
		slog.String("user_id", userID),
	)

	if err := m.repo.Save(ctx, cred); err != nil {
		m.logger.Error("資格情報の失効前フラッシュに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	cred.Dirty = false
	data, err := json.Marshal(cred)
	if err != nil {
		return
	}
	if err := m.store.SetWithTTL(ctx, credKeyPrefix+userID, data, flushedTTL); err != nil {
		m.logger.Warn("フラッシュ後のメインキー再設定に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// loadCached はキャッシュ層から資格情報を読み出す。未キャッシュ・ダウン時はnil。
func (m *Manager) loadCached(ctx context.Context, userID string) (*model.Credential, error) {
	data, err := m.store.Get(ctx, credKeyPrefix+userID)
	if err != nil {
		return nil, nil
	}

	var cred model.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, nil
	}

	return &cred, nil
}

// loadCredential はキャッシュ優先で資格情報を読み出し、ミス時は永続ストアから補充する。
func (m *Manager) loadCredential(ctx context.Context, userID string) (*model.Credential, error) {
	data, err := m.store.Get(ctx, credKeyPrefix+userID)
	if err == nil {
		var cred model.Credential
		if jerr := json.Unmarshal(data, &cred); jerr == nil {
			m.metrics.RecordCacheHit()
			return &cred, nil
		}
	}

	if err != nil && !errors.Is(err, cachetier.ErrNotFound) {
		// キャッシュ層ダウン: 永続ストア直読み
		cred, derr := m.repo.Find(ctx, userID)
		if derr != nil {
			return nil, fmt.Errorf("資格情報の読み出しに失敗しました: %w", derr)
		}
		return cred, nil
	}

	m.metrics.RecordCacheMiss()

	cred, err := m.repo.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("資格情報の読み出しに失敗しました: %w", err)
	}
	if cred == nil {
		return nil, nil
	}

	if err := m.setCache(ctx, cred); err != nil {
		m.logger.Warn("資格情報のキャッシュ書き込みに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return cred, nil
}

// saveCredential はライトバックで資格情報を保存する。
// キャッシュ層が落ちている場合は永続ストアへ直接書く。
func (m *Manager) saveCredential(ctx context.Context, cred *model.Credential) error {
	if err := m.setCache(ctx, cred); err != nil {
		return m.repo.Save(ctx, cred)
	}
	return nil
}

// setCache はメインキーと警告キーをフルTTLで設定する。
func (m *Manager) setCache(ctx context.Context, cred *model.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("資格情報のシリアライズに失敗しました: %w", err)
	}
	if err := m.store.SetWithTTL(ctx, credKeyPrefix+cred.UserID, data, m.ttl); err != nil {
		return err
	}
	return m.store.SetWithTTL(ctx, credWarnKeyPrefix+cred.UserID, []byte(cred.UserID), m.warnTTL)
}
