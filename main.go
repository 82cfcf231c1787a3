package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
)

// main запускает HTTP API и Telegram-бота.
func main() {
	config := LoadConfig()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if config.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	store, err := OpenStore(postgres.Open(config.DatabaseURL))
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot init store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("cannot close store")
		}
	}()

	tokens := NewTokenService(store, config.JWTSecret, config.AccessTokenTTL, config.RefreshTokenTTL)
	api := NewAPI(store, tokens, logger)
	server := &http.Server{
		Addr:    config.HTTPAddr,
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info().Str("addr", config.HTTPAddr).Msg("HTTP server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Просроченные записи реестра токенов вычищаются в фоне.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pruned, err := tokens.CleanupExpired(ctx)
				if err != nil {
					logger.Error().Err(err).Msg("token cleanup error")
					continue
				}
				if pruned > 0 {
					logger.Info().Int64("pruned", pruned).Msg("expired tokens removed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if config.BotToken != "" {
		bot := NewTelegramBot(store, config.BotToken, logger)
		go func() {
			if err := bot.Start(ctx); err != nil {
				logger.Fatal().Err(err).Msg("bot error")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
}
