package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	refreshTokenPrefix = "refresh_token:"
	blacklistPrefix    = "blacklist:"

	connectTimeout = 5 * time.Second
)

// Service owns the shared Redis connection. The job queue and the pub/sub
// broker both hang off the same client.
type Service struct {
	client *redis.Client
}

// New connects and pings so a bad REDIS_URL fails at startup, not on the
// first request.
func New(redisURL string) (*Service, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: client}, nil
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	return s.client
}

// StoreRefreshToken maps a refresh token hash to its owner for the token's
// lifetime. Rotation replaces the key, logout deletes it.
func (s *Service) StoreRefreshToken(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	return s.client.Set(ctx, refreshTokenPrefix+tokenHash, userID, ttl).Err()
}

func (s *Service) GetRefreshTokenUserID(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.client.Get(ctx, refreshTokenPrefix+tokenHash).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("refresh token not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to get refresh token: %w", err)
	}
	return userID, nil
}

func (s *Service) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	return s.client.Del(ctx, refreshTokenPrefix+tokenHash).Err()
}

// StoreBlacklistedToken marks an access token revoked until it would have
// expired anyway.
func (s *Service) StoreBlacklistedToken(ctx context.Context, tokenHash string, ttl time.Duration) error {
	return s.client.Set(ctx, blacklistPrefix+tokenHash, "revoked", ttl).Err()
}

func (s *Service) IsTokenBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	exists, err := s.client.Exists(ctx, blacklistPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}
