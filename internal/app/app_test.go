package app

import (
	"io"
	"testing"
)

// requiredEnvVars は起動に必須の環境変数。
var requiredEnvVars = []string{
	"DATABASE_URL",
	"SPOTIFY_CLIENT_ID",
	"SPOTIFY_CLIENT_SECRET",
	"SPOTIFY_REDIRECT_URL",
	"SESSION_SECRET",
	"BASE_URL",
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tunepick_test?sslmode=disable")
	t.Setenv("SPOTIFY_CLIENT_ID", "client-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "client-secret")
	t.Setenv("SPOTIFY_REDIRECT_URL", "http://localhost:8080/auth/spotify/callback")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("BASE_URL", "http://localhost:3000")
}

func TestInit_Success(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Init(io.Discard)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
}

func TestInit_MissingRequiredEnv(t *testing.T) {
	setRequiredEnv(t)
	for _, key := range requiredEnvVars {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, "")

			if _, err := Init(io.Discard); err == nil {
				t.Errorf("%s未設定でエラーになるべき", key)
			}
		})
	}
}

func TestRun_HealthcheckFailsWithoutServer(t *testing.T) {
	t.Setenv("SERVER_PORT", "59999")

	// サーバーが立っていないのでヘルスチェックは失敗する
	if err := Run(io.Discard, []string{"healthcheck"}); err == nil {
		t.Error("到達不能なサーバーへのヘルスチェックはエラーになるべき")
	}
}
