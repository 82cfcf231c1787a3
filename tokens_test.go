package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTokens создает сервис токенов поверх тестового хранилища.
func newTestTokens(t *testing.T, store *Store) *TokenService {
	t.Helper()
	return NewTokenService(store, "test-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestIssueAndValidate(t *testing.T) {
	store := newTestStore(t)
	tokens := newTestTokens(t, store)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	pair, err := tokens.Issue(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), pair.ExpiresIn)

	userID, err := tokens.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	// Refresh-токен не проходит как access.
	_, err = tokens.Validate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = tokens.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateExpiredToken(t *testing.T) {
	store := newTestStore(t)
	tokens := NewTokenService(store, "test-secret", time.Minute, time.Hour)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	base := time.Now()
	tokens.now = func() time.Time { return base }

	pair, err := tokens.Issue(ctx, user.ID)
	require.NoError(t, err)

	_, err = tokens.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)

	// Через две минуты access-токен просрочен, refresh еще жив.
	tokens.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = tokens.Validate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	rotated, err := tokens.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Через два часа просрочен и refresh.
	tokens.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = tokens.Rotate(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRotateIsSingleUse(t *testing.T) {
	store := newTestStore(t)
	tokens := newTestTokens(t, store)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	pair, err := tokens.Issue(ctx, user.ID)
	require.NoError(t, err)

	rotated, err := tokens.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Повторная ротация того же токена — воспроизведение, отказ.
	_, err = tokens.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Новая пара при этом валидна.
	userID, err := tokens.Validate(ctx, rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	store := newTestStore(t)
	tokens := newTestTokens(t, store)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	pair, err := tokens.Issue(ctx, user.ID)
	require.NoError(t, err)

	// Конкурирующие ротации одного refresh-токена: условный UPDATE
	// пропускает ровно одного.
	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tokens.Rotate(ctx, pair.RefreshToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, 1, winners)
}

func TestRevokeAllUserTokens(t *testing.T) {
	store := newTestStore(t)
	tokens := newTestTokens(t, store)
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	alicePair, err := tokens.Issue(ctx, alice.ID)
	require.NoError(t, err)
	bobPair, err := tokens.Issue(ctx, bob.ID)
	require.NoError(t, err)

	require.NoError(t, tokens.Revoke(ctx, alice.ID))

	_, err = tokens.Validate(ctx, alicePair.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = tokens.Rotate(ctx, alicePair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Токены другого пользователя не затронуты.
	_, err = tokens.Validate(ctx, bobPair.AccessToken)
	require.NoError(t, err)
}

func TestCleanupExpired(t *testing.T) {
	store := newTestStore(t)
	tokens := NewTokenService(store, "test-secret", time.Minute, time.Hour)
	ctx := context.Background()
	user := newTestUser(t, store, "alice")

	base := time.Now()
	tokens.now = func() time.Time { return base }

	_, err := tokens.Issue(ctx, user.ID)
	require.NoError(t, err)

	pruned, err := tokens.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	tokens.now = func() time.Time { return base.Add(2 * time.Hour) }
	pruned, err = tokens.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}
