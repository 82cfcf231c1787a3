package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// contextKey — закрытый тип ключей контекста запроса.
type contextKey string

// userIDKey хранит идентификатор аутентифицированного пользователя.
const userIDKey contextKey = "userID"

// withUserID кладет идентификатор пользователя в контекст запроса.
func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// userIDFromContext достает идентификатор, положенный шлюзом аутентификации.
func userIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// AuthMiddleware проверяет bearer-токен на каждом закрытом запросе.
// Публичные маршруты регистрируются мимо него.
type AuthMiddleware struct {
	tokens *TokenService
}

// Wrap добавляет проверку access-токена к обработчику. Разрешенная
// личность передается дальше через контекст; самим хранилищем шлюз
// не пользуется.
func (m AuthMiddleware) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, fmt.Errorf("%w: missing bearer token", ErrUnauthorized))
			return
		}
		userID, err := m.tokens.Validate(r.Context(), raw)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(withUserID(r.Context(), userID)))
	}
}

// bearerToken извлекает токен из заголовка Authorization.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

// statusRecorder запоминает статус ответа для лога.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader перехватывает статус.
func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware пишет в лог метод, путь, статус и длительность запроса.
func LoggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
