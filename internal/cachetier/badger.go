package cachetier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore はBadgerDBを使用した高速キャッシュ層の実装。
// BadgerのエントリTTLで値の寿命を管理し、期限切れ通知は
// プロセス内のタイマーレジストリで実現する（Badger自体は満了を通知しない）。
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	onExpiry []func(key string)
	closed   bool
}

// OpenBadger は指定ディレクトリにBadgerDBを開き、BadgerStoreを生成する。
// dirが空文字の場合はインメモリモードで開く（テスト用）。
func OpenBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:     db,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Get はキーの値を取得する。存在しない・期限切れの場合はErrNotFoundを返す。
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrUnavailable
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ErrUnavailable
	}

	return value, nil
}

// SetWithTTL は値をTTL付きで書き込み、期限切れ通知タイマーを再装填する。
func (s *BadgerStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.isClosed() {
		return ErrUnavailable
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return ErrUnavailable
	}

	s.armTimer(key, ttl)
	return nil
}

// Delete は指定キーを削除し、対応するタイマーを取り消す。
func (s *BadgerStore) Delete(ctx context.Context, keys ...string) error {
	if s.isClosed() {
		return ErrUnavailable
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ErrUnavailable
	}

	s.mu.Lock()
	for _, key := range keys {
		if t, ok := s.timers[key]; ok {
			t.Stop()
			delete(s.timers, key)
		}
	}
	s.mu.Unlock()

	return nil
}

// NotifyExpiry は期限切れ通知コールバックを登録する。
func (s *BadgerStore) NotifyExpiry(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpiry = append(s.onExpiry, fn)
}

// Close はタイマーをすべて停止してBadgerDBを閉じる。
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	return s.db.Close()
}

// armTimer はキーの期限切れタイマーを（再）装填する。
func (s *BadgerStore) armTimer(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}

	s.timers[key] = time.AfterFunc(ttl, func() {
		s.fireExpiry(key)
	})
}

// fireExpiry はタイマー満了時に登録済みコールバックを呼び出す。
func (s *BadgerStore) fireExpiry(key string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	callbacks := make([]func(string), len(s.onExpiry))
	copy(callbacks, s.onExpiry)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(key)
	}
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// compile-time interface check
var _ Store = (*BadgerStore)(nil)
