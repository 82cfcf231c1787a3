package main

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenPair — пара access/refresh токенов, выдаваемая клиенту.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// tokenClaims — полезная нагрузка JWT: стандартные поля плюс вид токена.
type tokenClaims struct {
	Kind TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenService выпускает, проверяет и ротирует токены. Подпись — HMAC,
// а реестр в базе делает токены отзываемыми: валидна только подписанная
// строка, чья запись реестра жива.
type TokenService struct {
	db         *gorm.DB
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService создает сервис токенов поверх базы хранилища.
func NewTokenService(store *Store, secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		db:         store.db,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue выпускает свежую пару токенов для пользователя и регистрирует обе
// записи в реестре.
func (t *TokenService) Issue(ctx context.Context, userID string) (TokenPair, error) {
	now := t.now()

	access, accessRow, err := t.sign(userID, TokenKindAccess, now, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshRow, err := t.sign(userID, TokenKindRefresh, now, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	rows := []Token{accessRow, refreshRow}
	if err := t.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(t.accessTTL.Seconds()),
	}, nil
}

// Validate проверяет access-токен и возвращает идентификатор владельца.
// Просроченный, поддельный или отозванный токен — ErrUnauthorized.
func (t *TokenService) Validate(ctx context.Context, access string) (string, error) {
	claims, err := t.parse(access, TokenKindAccess)
	if err != nil {
		return "", err
	}

	var count int64
	err = t.db.WithContext(ctx).Model(&Token{}).
		Where("id = ? AND kind = ? AND revoked = ? AND expires_at > ?",
			claims.ID, TokenKindAccess, false, t.now()).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("%w: token revoked or unknown", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Rotate обменивает refresh-токен на новую пару. Токен одноразовый:
// условный UPDATE отзывает запись реестра атомарно, поэтому из
// конкурирующих ротаций одного токена выигрывает ровно одна.
func (t *TokenService) Rotate(ctx context.Context, refresh string) (TokenPair, error) {
	claims, err := t.parse(refresh, TokenKindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	result := t.db.WithContext(ctx).Model(&Token{}).
		Where("id = ? AND kind = ? AND revoked = ? AND expires_at > ?",
			claims.ID, TokenKindRefresh, false, t.now()).
		Update("revoked", true)
	if result.Error != nil {
		return TokenPair{}, result.Error
	}
	if result.RowsAffected != 1 {
		return TokenPair{}, fmt.Errorf("%w: refresh token expired, unknown or already rotated", ErrUnauthorized)
	}

	return t.Issue(ctx, claims.Subject)
}

// Revoke отзывает все живые токены пользователя (используется при logout).
func (t *TokenService) Revoke(ctx context.Context, userID string) error {
	return t.db.WithContext(ctx).Model(&Token{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true).Error
}

// CleanupExpired удаляет просроченные записи реестра и возвращает их число.
func (t *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	result := t.db.WithContext(ctx).
		Where("expires_at < ?", t.now()).
		Delete(&Token{})
	return result.RowsAffected, result.Error
}

// sign подписывает JWT и готовит соответствующую запись реестра.
func (t *TokenService) sign(userID string, kind TokenKind, now time.Time, ttl time.Duration) (string, Token, error) {
	id := uuid.NewString()
	claims := tokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", Token{}, err
	}
	row := Token{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		ExpiresAt: now.Add(ttl),
	}
	return signed, row, nil
}

// parse проверяет подпись, срок и вид токена.
func (t *TokenService) parse(raw string, kind TokenKind) (*tokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: malformed or expired token", ErrUnauthorized)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.ID == "" || claims.Subject == "" || claims.Kind != kind {
		return nil, fmt.Errorf("%w: wrong token kind", ErrUnauthorized)
	}
	return claims, nil
}
