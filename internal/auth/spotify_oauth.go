package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

const (
	defaultSpotifyAuthURL    = "https://accounts.spotify.com/authorize"
	defaultSpotifyTokenURL   = "https://accounts.spotify.com/api/token"
	defaultSpotifyProfileURL = "https://api.spotify.com/v1/me"

	// spotifyScopes は検索・プロフィール取得・ライブラリ保存に必要なスコープ。
	spotifyScopes = "user-read-email user-read-private user-library-modify"
)

// SpotifyOAuthConfig はSpotify OAuthプロバイダーの設定。
type SpotifyOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// SpotifyOAuthProvider はSpotifyの認可コードフローによる連携を提供する。
type SpotifyOAuthProvider struct {
	config SpotifyOAuthConfig
}

// NewSpotifyOAuthProvider はSpotifyOAuthProviderを生成する。
func NewSpotifyOAuthProvider(config SpotifyOAuthConfig) *SpotifyOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultSpotifyAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultSpotifyTokenURL
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultSpotifyProfileURL
	}
	return &SpotifyOAuthProvider{config: config}
}

// GetLoginURL はSpotifyの認可URLを生成する。
func (p *SpotifyOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {spotifyScopes},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// spotifyTokenResponse はSpotifyのトークンエンドポイントのレスポンス。
type spotifyTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// spotifyProfile はSpotifyのプロフィールエンドポイントのレスポンス。
type spotifyProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
}

// ExchangeCode は認可コードをトークンに交換し、連携アカウントの情報を取得する。
func (p *SpotifyOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthResult, error) {
	tokenResp, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	profile, err := p.fetchProfile(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	return &OAuthResult{
		ExternalAccountID: profile.ID,
		Email:             profile.Email,
		DisplayName:       profile.DisplayName,
		Country:           profile.Country,
		AccessToken:       tokenResp.AccessToken,
		RefreshToken:      tokenResp.RefreshToken,
	}, nil
}

// exchangeToken は認可コードをアクセストークンとリフレッシュトークンに交換する。
// クライアント認証はBasicヘッダで行う。
func (p *SpotifyOAuthProvider) exchangeToken(ctx context.Context, code string) (*spotifyTokenResponse, error) {
	data := url.Values{
		"code":         {code},
		"redirect_uri": {p.config.RedirectURL},
		"grant_type":   {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.config.ClientID + ":" + p.config.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp spotifyTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// fetchProfile はアクセストークンで連携アカウントのプロフィールを取得する。
func (p *SpotifyOAuthProvider) fetchProfile(ctx context.Context, accessToken string) (*spotifyProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var profile spotifyProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}

	if profile.ID == "" {
		return nil, fmt.Errorf("empty account id in profile response")
	}

	return &profile, nil
}

// compile-time interface check
var _ OAuthProvider = (*SpotifyOAuthProvider)(nil)
