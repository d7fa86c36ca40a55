package quarantine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/phish-gateway/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps quarantined messages as Redis strings under a key prefix
type RedisStore struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed quarantine
func NewRedisStore(client redis.Cmdable, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "phishgate:quarantine:"
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisStore) key(caseID string) string {
	return s.prefix + caseID
}

// Store implements core.QuarantineStorage
func (s *RedisStore) Store(ctx context.Context, caseID string, raw []byte) error {
	if err := s.client.Set(ctx, s.key(caseID), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to quarantine message: %w", err)
	}
	s.logger.Debug("Message quarantined", zap.String("case_id", caseID), zap.String("key", s.key(caseID)))
	return nil
}

// Retrieve implements core.QuarantineStorage
func (s *RedisStore) Retrieve(ctx context.Context, caseID string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(caseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantined message: %w", err)
	}
	return raw, nil
}

// Delete implements core.QuarantineStorage
func (s *RedisStore) Delete(ctx context.Context, caseID string) error {
	if err := s.client.Del(ctx, s.key(caseID)).Err(); err != nil {
		return fmt.Errorf("failed to delete quarantined message: %w", err)
	}
	return nil
}
