// Package auth はSpotify連携フローとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tunepick/internal/model"
	"github.com/hitoshi/tunepick/internal/repository"
)

// OAuthResult はOAuthプロバイダーから取得した連携アカウントの情報を表す。
type OAuthResult struct {
	ExternalAccountID string
	Email             string
	DisplayName       string
	Country           string
	AccessToken       string
	RefreshToken      string
}

// OAuthProvider はOAuth認可コードフローのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認可URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、連携アカウントの情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthResult, error)
}

// CredentialStore は連携成立時の資格情報の書き込みに必要な操作。
// token.Managerが実装する。
type CredentialStore interface {
	StoreConnection(ctx context.Context, userID, externalAccountID, accessToken, refreshToken, country string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は連携とセッションに関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	credRepo    repository.CredentialRepository
	sessionRepo repository.SessionRepository
	credentials CredentialStore
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	credRepo repository.CredentialRepository,
	sessionRepo repository.SessionRepository,
	credentials CredentialStore,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		credRepo:    credRepo,
		sessionRepo: sessionRepo,
		credentials: credentials,
		config:      config,
	}
}

// GetLoginURL はOAuth認可URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 既存ユーザーは外部アカウントID、次いでメールアドレスで特定する。
// 未登録の場合はusersレコードを自動作成する。いずれの場合も
// 資格情報行を最新のトークンで更新してからセッションを作る。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	result, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	userID, err := s.resolveUser(ctx, result)
	if err != nil {
		return nil, err
	}

	if err := s.credentials.StoreConnection(ctx, userID, result.ExternalAccountID, result.AccessToken, result.RefreshToken, result.Country); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// resolveUser は連携アカウントに対応するユーザーIDを返す。
// 見つからなければ新規作成する。
func (s *Service) resolveUser(ctx context.Context, result *OAuthResult) (string, error) {
	cred, err := s.credRepo.FindByExternalAccountID(ctx, result.ExternalAccountID)
	if err != nil {
		return "", fmt.Errorf("failed to find credential: %w", err)
	}
	if cred != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", cred.UserID),
			slog.String("external_account_id", result.ExternalAccountID),
		)
		return cred.UserID, nil
	}

	if result.Email != "" {
		user, err := s.userRepo.FindByEmail(ctx, result.Email)
		if err != nil {
			return "", fmt.Errorf("failed to find user by email: %w", err)
		}
		if user != nil {
			slog.Info("existing user linked to external account",
				slog.String("user_id", user.ID),
				slog.String("external_account_id", result.ExternalAccountID),
			)
			return user.ID, nil
		}
	}

	now := time.Now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     result.Email,
		Name:      result.DisplayName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, newUser); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("external_account_id", result.ExternalAccountID),
	)
	return newUser.ID, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
