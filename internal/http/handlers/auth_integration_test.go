package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/fanzone-auth/internal/auth"
	"github.com/hongminglow/fanzone-auth/internal/config"
	"github.com/hongminglow/fanzone-auth/internal/models/dto"
	"github.com/hongminglow/fanzone-auth/internal/storage/postgres"
)

// TestAuthIntegration exercises the full token lifecycle against a live Postgres.
func TestAuthIntegration(t *testing.T) {
	if os.Getenv("RUN_AUTH_INTEGRATION") != "true" {
		t.Skip("set RUN_AUTH_INTEGRATION=true to run this integration test")
	}

	loadDotEnv()
	cfg, err := config.Load()
	require.NoError(t, err, "load config")
	require.NotEmpty(t, cfg.DatabaseURL, "DATABASE_URL is required")

	ctx := context.Background()
	store, err := postgres.NewUserStore(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "init store")
	defer store.Close()

	tokens := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	api := buildAPI(t, store, tokens, cfg.BcryptCost)

	username := fmt.Sprintf("it_%d", time.Now().UnixNano()%1_000_000_000)
	password := fmt.Sprintf("Pass!%dAa", time.Now().UnixNano())
	registered := api.register(t, dto.RegisterRequest{
		Email:    username + "@example.com",
		Username: username,
		Password: password,
	})

	code, env := api.do(t, http.MethodPost, "/auth/login", "", dto.LoginRequest{Identifier: username, Password: password})
	require.Equal(t, http.StatusOK, code)
	loggedIn := decodeData[dto.AuthResponse](t, env)
	assert.Equal(t, registered.Identity.ID, loggedIn.Identity.ID)

	code, _ = api.do(t, http.MethodPost, "/auth/refresh", "", dto.RefreshRequest{RefreshToken: registered.Tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, code, "login replaces the registration session")

	code, env = api.do(t, http.MethodPost, "/auth/refresh", "", dto.RefreshRequest{RefreshToken: loggedIn.Tokens.RefreshToken})
	require.Equal(t, http.StatusOK, code)
	refreshed := decodeData[dto.RefreshResponse](t, env)

	code, _ = api.do(t, http.MethodGet, "/auth/me", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPost, "/auth/logout", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = api.do(t, http.MethodPost, "/auth/refresh", "", dto.RefreshRequest{RefreshToken: refreshed.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, code)

	t.Logf("identity %s registered, refreshed and logged out", registered.Identity.ID)
}

func loadDotEnv() {
	paths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
		"../../../../.env",
	}
	for _, path := range paths {
		_ = godotenv.Overload(path)
	}
}
