package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shindakun/authweb/internal/models"
)

func TestRedisTokenStoreSave(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisTokenStore(client, time.Hour)

	tokens := &models.Tokens{IDToken: "id", AccessToken: "access", RefreshToken: "refresh", ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(tokens)
	require.NoError(t, err)

	mock.ExpectSet("authweb:tokens:sess-1", string(data), time.Hour).SetVal("OK")

	require.NoError(t, store.SaveTokens(context.Background(), "sess-1", tokens))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTokenStoreLoad(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisTokenStore(client, time.Hour)

	mock.ExpectGet("authweb:tokens:sess-1").SetVal(`{"id_token":"id","access_token":"access","expires_at":"2026-01-01T00:00:00Z"}`)

	tokens, err := store.LoadTokens(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "id", tokens.IDToken)
	assert.Equal(t, "access", tokens.AccessToken)
	assert.Empty(t, tokens.RefreshToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTokenStoreMissing(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisTokenStore(client, time.Hour)

	mock.ExpectGet("authweb:tokens:nobody").RedisNil()

	_, err := store.LoadTokens(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoTokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTokenStoreErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisTokenStore(client, time.Hour)
	ctx := context.Background()

	mock.ExpectGet("authweb:tokens:sess").SetErr(errors.New("connection refused"))
	_, err := store.LoadTokens(ctx, "sess")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoTokens)

	mock.ExpectGet("authweb:tokens:bad").SetVal("not json")
	_, err = store.LoadTokens(ctx, "bad")
	assert.ErrorContains(t, err, "failed to decode tokens")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTokenStoreDelete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisTokenStore(client, 0)

	mock.ExpectDel("authweb:tokens:sess-1").SetVal(1)

	require.NoError(t, store.DeleteTokens(context.Background(), "sess-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
