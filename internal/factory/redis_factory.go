package factory

import (
	"fmt"
	"sync"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisFactory lazily creates the Redis client shared by the quarantine and the model loader
type RedisFactory struct {
	cfg    *config.Config
	logger *zap.Logger

	once   sync.Once
	client *redis.Client
	err    error
}

// NewRedisFactory creates a new Redis factory
func NewRedisFactory(cfg *config.Config, logger *zap.Logger) *RedisFactory {
	return &RedisFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// Client returns the shared client, connecting on first use
func (f *RedisFactory) Client() (*redis.Client, error) {
	f.once.Do(func() {
		opts, err := redis.ParseURL(f.cfg.GetRedisURL())
		if err != nil {
			f.err = fmt.Errorf("invalid redis url: %w", err)
			return
		}
		f.client = redis.NewClient(opts)
		f.logger.Info("Redis client created", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	})
	return f.client, f.err
}

// Close closes the client if one was created
func (f *RedisFactory) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
