package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/hitoshi/tunepick/internal/model"
)

// PostgresPreferenceRepo はPostgreSQLを使用した好みドキュメントリポジトリ。
// ドキュメント全体をJSONBカラムに保存する。リスト構造の変更が多く、
// 正規化テーブルにするとライトバックのフラッシュが多段UPDATEになるため。
type PostgresPreferenceRepo struct {
	db *sql.DB
}

// NewPostgresPreferenceRepo はPostgresPreferenceRepoを生成する。
func NewPostgresPreferenceRepo(db *sql.DB) *PostgresPreferenceRepo {
	return &PostgresPreferenceRepo{db: db}
}

// Find は指定ユーザーの好みドキュメントを取得する。見つからない場合はnilを返す。
func (r *PostgresPreferenceRepo) Find(ctx context.Context, userID string) (*model.Preferences, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM preferences WHERE user_id = $1`,
		userID,
	).Scan(&document)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find preferences: %w", err)
	}

	prefs := &model.Preferences{}
	if err := json.Unmarshal(document, prefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences document: %w", err)
	}

	return prefs, nil
}

// Save は好みドキュメントを冪等にUPSERTする。
func (r *PostgresPreferenceRepo) Save(ctx context.Context, prefs *model.Preferences) error {
	document, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences document: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO preferences (user_id, document, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   document   = EXCLUDED.document,
		   updated_at = now()`,
		prefs.UserID, document,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}

	return nil
}

// compile-time interface check
var _ PreferenceRepository = (*PostgresPreferenceRepo)(nil)
