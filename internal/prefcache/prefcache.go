// Package prefcache はユーザーの音楽の好みドキュメントのライトバックキャッシュを提供する。
// 更新は高速キャッシュ層にのみ書き込み、TTL満了前の警告キー失効を契機に
// 永続ストアへフラッシュする。キャッシュ層が落ちている間は永続ストアへ直接読み書きする。
package prefcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hitoshi/tunepick/internal/cachetier"
	"github.com/hitoshi/tunepick/internal/metrics"
	"github.com/hitoshi/tunepick/internal/model"
	"github.com/hitoshi/tunepick/internal/repository"
)

const (
	prefKeyPrefix    = "preferences:"
	warningKeyPrefix = "preferences:warning:"

	// flushedTTL は警告キー失効を契機にフラッシュした後、
	// メインキーに付け直す短いTTL。
	flushedTTL = 60 * time.Second

	// expiryFlushTimeout は失効コールバック内の永続化処理のタイムアウト。
	expiryFlushTimeout = 10 * time.Second
)

// envelope はキャッシュ層に格納するドキュメントのエンベロープ。
// validは読み出しの採用可否、dirtyは永続ストアへの未反映更新の有無を示す。
type envelope struct {
	*model.Preferences
	Valid bool `json:"valid"`
	Dirty bool `json:"dirty"`
}

// PreferenceCache は好みドキュメントのライトバックキャッシュ。
// ユーザーごとのミューテックスでread-modify-writeを直列化し、
// 並行フィードバックによる更新の消失を防ぐ。
type PreferenceCache struct {
	store   cachetier.Store
	repo    repository.PreferenceRepository
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	ttl     time.Duration
	warnTTL time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New はPreferenceCache の新しいインスタンスを生成し、
// 警告キーの失効コールバックをキャッシュ層に登録する。
// flushMarginはメインキーTTLより短くなければならない（config側で検証済み）。
func New(store cachetier.Store, repo repository.PreferenceRepository, collector metrics.MetricsCollector, logger *slog.Logger, ttl, flushMargin time.Duration) *PreferenceCache {
	c := &PreferenceCache{
		store:   store,
		repo:    repo,
		logger:  logger,
		metrics: collector,
		ttl:     ttl,
		warnTTL: ttl - flushMargin,
		locks:   make(map[string]*sync.Mutex),
	}

	store.NotifyExpiry(c.onExpiry)

	return c
}

// userLock はユーザーごとのミューテックスを返す。
func (c *PreferenceCache) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[userID] = lock
	}
	return lock
}

// Get はユーザーの好みドキュメントを取得する。
// キャッシュ層に有効なエントリがあればそれを返し、なければ永続ストアから
// 読み出して両キーを張り直す。ドキュメントが存在しない場合は空で遅延作成する。
func (c *PreferenceCache) Get(ctx context.Context, userID string) (*model.Preferences, error) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	env, err := c.loadEnvelope(ctx, userID)
	if err == nil && env.Valid {
		c.metrics.RecordCacheHit()
		return env.Preferences, nil
	}
	if err != nil && !errors.Is(err, cachetier.ErrNotFound) {
		// キャッシュ層が落ちている場合は永続ストア直読みに切り替える
		c.logger.Warn("キャッシュ層が利用できないため永続ストアから直接読み出します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.loadDurable(ctx, userID)
	}

	c.metrics.RecordCacheMiss()

	prefs, err := c.loadDurable(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := c.setBoth(ctx, userID, &envelope{Preferences: prefs, Valid: true, Dirty: false}); err != nil {
		c.logger.Warn("キャッシュ層への書き込みに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return prefs, nil
}

// Update は好みドキュメントに変更を適用する。
// キャッシュ層が生きていれば書き込みはキャッシュのみに行い、dirtyビットを立てて
// 警告キー失効時のフラッシュに委ねる。キャッシュ層が落ちていれば永続ストアへ直接書く。
func (c *PreferenceCache) Update(ctx context.Context, userID string, mutate func(*model.Preferences)) error {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	env, err := c.loadEnvelope(ctx, userID)
	switch {
	case err == nil:
		// キャッシュのドキュメントに適用
	case errors.Is(err, cachetier.ErrNotFound):
		prefs, derr := c.loadDurable(ctx, userID)
		if derr != nil {
			return derr
		}
		env = &envelope{Preferences: prefs}
	default:
		// キャッシュ層ダウン: 永続ストアへ直接read-modify-write
		c.logger.Warn("キャッシュ層が利用できないため永続ストアへ直接書き込みます",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		prefs, derr := c.loadDurable(ctx, userID)
		if derr != nil {
			return derr
		}
		mutate(prefs)
		prefs.UpdatedAt = time.Now()
		return c.repo.Save(ctx, prefs)
	}

	mutate(env.Preferences)
	env.Preferences.UpdatedAt = time.Now()
	env.Dirty = true
	env.Valid = true

	if err := c.setBoth(ctx, userID, env); err != nil {
		// 書き込み失敗時は更新を失わないよう永続ストアへ退避する
		c.logger.Warn("キャッシュ層への書き込みに失敗したため永続ストアへ退避します",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.repo.Save(ctx, env.Preferences)
	}

	return nil
}

// Sync はdirtyなドキュメントを永続ストアへ明示的にフラッシュする。
// フラッシュ後は両キーをフルTTLで張り直す。dirtyでなければ何もしない。
func (c *PreferenceCache) Sync(ctx context.Context, userID string) error {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return c.syncLocked(ctx, userID)
}

func (c *PreferenceCache) syncLocked(ctx context.Context, userID string) error {
	env, err := c.loadEnvelope(ctx, userID)
	if err != nil {
		if errors.Is(err, cachetier.ErrNotFound) {
			return nil
		}
		// キャッシュ層ダウン時はフラッシュすべきものがない
		return nil
	}

	if !env.Dirty {
		return nil
	}

	if err := c.repo.Save(ctx, env.Preferences); err != nil {
		return fmt.Errorf("好みドキュメントのフラッシュに失敗しました: %w", err)
	}
	c.metrics.RecordPrefFlush()

	env.Dirty = false
	if err := c.setBoth(ctx, userID, env); err != nil {
		c.logger.Warn("フラッシュ後のキャッシュ書き戻しに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Evict はフラッシュしてから両キーを削除する。ログアウト時に使う。
func (c *PreferenceCache) Evict(ctx context.Context, userID string) error {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := c.syncLocked(ctx, userID); err != nil {
		return err
	}

	if err := c.store.Delete(ctx, prefKeyPrefix+userID, warningKeyPrefix+userID); err != nil {
		if errors.Is(err, cachetier.ErrUnavailable) {
			return nil
		}
		return err
	}

	return nil
}

// onExpiry は警告キーの失効を受けてdirtyなドキュメントをフラッシュする。
// フラッシュ後はメインキーを短いTTLで張り直し、直後の読み出しヒットを維持しつつ
// すみやかな自然失効を許す。
func (c *PreferenceCache) onExpiry(key string) {
	if !strings.HasPrefix(key, warningKeyPrefix) {
		return
	}
	userID := strings.TrimPrefix(key, warningKeyPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), expiryFlushTimeout)
	defer cancel()

	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	env, err := c.loadEnvelope(ctx, userID)
	if err != nil {
		return
	}
	if !env.Dirty {
		return
	}

	c.logger.Info("TTL満了前にdirtyな好みドキュメントをフラッシュします",
		slog.String("user_id", userID),
	)

	if err := c.repo.Save(ctx, env.Preferences); err != nil {
		c.logger.Error("失効前フラッシュに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.metrics.RecordPrefFlush()

	env.Dirty = false
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := c.store.SetWithTTL(ctx, prefKeyPrefix+userID, data, flushedTTL); err != nil {
		c.logger.Warn("フラッシュ後のメインキー再設定に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// loadEnvelope はキャッシュ層からエンベロープを読み出す。
func (c *PreferenceCache) loadEnvelope(ctx context.Context, userID string) (*envelope, error) {
	data, err := c.store.Get(ctx, prefKeyPrefix+userID)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("キャッシュエントリのパースに失敗しました: %w", err)
	}
	if env.Preferences == nil {
		return nil, cachetier.ErrNotFound
	}

	return &env, nil
}

// loadDurable は永続ストアからドキュメントを読み出す。
// 存在しない場合は空のドキュメントを作成して保存する。
func (c *PreferenceCache) loadDurable(ctx context.Context, userID string) (*model.Preferences, error) {
	prefs, err := c.repo.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("好みドキュメントの読み出しに失敗しました: %w", err)
	}
	if prefs == nil {
		prefs = model.NewPreferences(uuid.New().String(), userID)
		if err := c.repo.Save(ctx, prefs); err != nil {
			return nil, fmt.Errorf("好みドキュメントの初期化に失敗しました: %w", err)
		}
	}
	return prefs, nil
}

// setBoth はメインキーと警告キーをフルTTLで設定する。
func (c *PreferenceCache) setBoth(ctx context.Context, userID string, env *envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("キャッシュエントリのシリアライズに失敗しました: %w", err)
	}

	if err := c.store.SetWithTTL(ctx, prefKeyPrefix+userID, data, c.ttl); err != nil {
		return err
	}
	return c.store.SetWithTTL(ctx, warningKeyPrefix+userID, []byte(userID), c.warnTTL)
}
