package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tunepick/internal/model"
)

// PostgresCredentialRepo はPostgreSQLを使用した資格情報リポジトリ。
// アクセストークン・リフレッシュトークンはNULL許容のカラムで保持し、
// NULLは「要再認証」を表す。行の削除は行わない。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// Find は指定ユーザーの資格情報を取得する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) Find(ctx context.Context, userID string) (*model.Credential, error) {
	cred := &model.Credential{}
	var externalID, accessToken, refreshToken, country sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, external_account_id, access_token, refresh_token, country
		 FROM credentials WHERE user_id = $1`,
		userID,
	).Scan(&cred.UserID, &externalID, &accessToken, &refreshToken, &country)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}

	cred.ExternalAccountID = externalID.String
	cred.AccessToken = accessToken.String
	cred.RefreshToken = refreshToken.String
	cred.Country = country.String

	return cred, nil
}

// FindByExternalAccountID は外部アカウントIDで資格情報を検索する。見つからない場合はnilを返す。
func (r *PostgresCredentialRepo) FindByExternalAccountID(ctx context.Context, externalAccountID string) (*model.Credential, error) {
	cred := &model.Credential{}
	var externalID, accessToken, refreshToken, country sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, external_account_id, access_token, refresh_token, country
		 FROM credentials WHERE external_account_id = $1`,
		externalAccountID,
	).Scan(&cred.UserID, &externalID, &accessToken, &refreshToken, &country)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by external account ID: %w", err)
	}

	cred.ExternalAccountID = externalID.String
	cred.AccessToken = accessToken.String
	cred.RefreshToken = refreshToken.String
	cred.Country = country.String

	return cred, nil
}

// Save は資格情報を冪等にUPSERTする。空文字のトークンはNULLとして保存する。
func (r *PostgresCredentialRepo) Save(ctx context.Context, cred *model.Credential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, external_account_id, access_token, refresh_token, country, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   external_account_id = EXCLUDED.external_account_id,
		   access_token        = EXCLUDED.access_token,
		   refresh_token       = EXCLUDED.refresh_token,
		   country             = EXCLUDED.country,
		   updated_at          = now()`,
		cred.UserID, cred.ExternalAccountID, cred.AccessToken, cred.RefreshToken, cred.Country,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
