package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shindakun/authweb/internal/models"
)

const redisKeyPrefix = "authweb:tokens:"

// RedisTokenStore keeps tokens in redis so several instances can share browser
// sessions. Instances pick up each other's sign-ins through the guard recheck.
type RedisTokenStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisClient connects to the redis server described by url and checks it responds
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// NewRedisTokenStore returns a store whose entries expire ttl after their last write.
// A zero ttl keeps entries until they are deleted.
func NewRedisTokenStore(client redis.Cmdable, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisTokenStore) LoadTokens(ctx context.Context, sessionID string) (*models.Tokens, error) {
	raw, err := s.client.Get(ctx, redisKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTokens
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	var tokens models.Tokens
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode tokens: %w", err)
	}
	return &tokens, nil
}

func (s *RedisTokenStore) SaveTokens(ctx context.Context, sessionID string, tokens *models.Tokens) error {
	if err := checkSave(sessionID, tokens); err != nil {
		return err
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	if err := s.client.Set(ctx, redisKey(sessionID), string(data), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) DeleteTokens(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}
