package main

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config хранит настройки приложения из переменных окружения.
type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BotToken        string
}

// LoadConfig загружает переменные из .env в корне проекта и возвращает конфигурацию.
func LoadConfig() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf(".env not loaded: %v", err)
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		JWTSecret:       envOrDefault("JWT_SECRET", "dev-secret-change-in-production"),
		AccessTokenTTL:  durationOrDefault("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL: durationOrDefault("JWT_REFRESH_TTL", 7*24*time.Hour),
		BotToken:        os.Getenv("BOT_TOKEN"),
	}

	// Срок жизни access-токена не может превышать срок refresh-токена.
	if config.AccessTokenTTL > config.RefreshTokenTTL {
		config.AccessTokenTTL = config.RefreshTokenTTL
	}

	return config
}

// envOrDefault возвращает значение переменной окружения или значение по умолчанию.
func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationOrDefault разбирает длительность из переменной окружения.
func durationOrDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid %s=%q, using default %s", key, value, fallback)
		return fallback
	}
	return parsed
}
