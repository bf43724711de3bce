package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestGetLoginURL(t *testing.T) {
	p := NewSpotifyOAuthProvider(SpotifyOAuthConfig{
		ClientID:    "client-id",
		RedirectURL: "https://example.com/auth/spotify/callback",
	})

	loginURL := p.GetLoginURL("state-123")

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if !strings.Contains(q.Get("scope"), "user-library-modify") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestExchangeCode(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantBasic := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
		if r.Header.Get("Authorization") != wantBasic {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("code") != "auth-code" {
			t.Errorf("code = %q", r.PostForm.Get("code"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	profileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"spotify-user-1","display_name":"Hitoshi","email":"hitoshi@example.com","country":"JP"}`))
	}))
	defer profileServer.Close()

	p := NewSpotifyOAuthProvider(SpotifyOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://example.com/callback",
		TokenURL:     tokenServer.URL,
		ProfileURL:   profileServer.URL,
	})

	result, err := p.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if result.ExternalAccountID != "spotify-user-1" {
		t.Errorf("ExternalAccountID = %q", result.ExternalAccountID)
	}
	if result.AccessToken != "access-1" || result.RefreshToken != "refresh-1" {
		t.Errorf("tokens = %q / %q", result.AccessToken, result.RefreshToken)
	}
	if result.Country != "JP" {
		t.Errorf("Country = %q", result.Country)
	}
}

func TestExchangeCode_TokenRejected(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	p := NewSpotifyOAuthProvider(SpotifyOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenServer.URL,
	})

	if _, err := p.ExchangeCode(context.Background(), "bad-code"); err == nil {
		t.Error("無効な認可コードはエラーになるべき")
	}
}
