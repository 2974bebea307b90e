package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hongminglow/fanzone-auth/internal/auth"
	"github.com/hongminglow/fanzone-auth/internal/config"
	"github.com/hongminglow/fanzone-auth/internal/credentials"
	"github.com/hongminglow/fanzone-auth/internal/logger"
	"github.com/hongminglow/fanzone-auth/internal/server"
	"github.com/hongminglow/fanzone-auth/internal/service"
	"github.com/hongminglow/fanzone-auth/internal/storage"
	"github.com/hongminglow/fanzone-auth/internal/storage/memory"
	"github.com/hongminglow/fanzone-auth/internal/storage/postgres"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("fanzone-auth", cfg.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Info("no .env file found; relying on existing environment")
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("init storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	verifier, err := credentials.NewVerifier(store, credentials.Options{
		Cost:    cfg.BcryptCost,
		Timeout: cfg.CredentialTimeout,
		Logger:  log,
	})
	if err != nil {
		log.Error("init verifier", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tokens := auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	engine := auth.NewEngine(tokens, store, auth.EngineOptions{
		RotateRefreshTokens: cfg.RotateRefreshTokens,
		Timeout:             cfg.TokenTimeout,
		Logger:              log,
	})
	svc := service.NewAuthService(verifier, engine, log)

	srv := server.New(cfg, svc, store, log)

	go func() {
		log.Info("fanzone auth server listening",
			slog.String("addr", cfg.HTTPAddress()),
			slog.String("storage", cfg.StorageDriver),
			slog.Bool("rotate_refresh_tokens", cfg.RotateRefreshTokens),
		)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error("graceful shutdown error", slog.String("error", err.Error()))
	}
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.UserStore, func(), error) {
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn("using in-memory storage; identities are lost on restart")
		return memory.New(), func() {}, nil
	}
	store, err := postgres.NewUserStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
