package factory

import (
	"fmt"

	"github.com/mikey/phish-gateway/internal/adapters/quarantine"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// QuarantineFactory creates the quarantine storage based on configuration
type QuarantineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	redis  *RedisFactory
}

// NewQuarantineFactory creates a new quarantine factory
func NewQuarantineFactory(cfg *config.Config, logger *zap.Logger, redis *RedisFactory) *QuarantineFactory {
	return &QuarantineFactory{
		cfg:    cfg,
		logger: logger,
		redis:  redis,
	}
}

// CreateQuarantine creates a file or Redis quarantine
func (f *QuarantineFactory) CreateQuarantine() (core.QuarantineStorage, error) {
	qCfg := f.cfg.GetQuarantine()
	logger := f.logger.Named("quarantine")

	switch qCfg.Type {
	case "file":
		return quarantine.NewFileStore(qCfg.Path, logger)
	case "redis":
		client, err := f.redis.Client()
		if err != nil {
			return nil, err
		}
		return quarantine.NewRedisStore(client, qCfg.RedisPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unsupported quarantine type: %s", qCfg.Type)
	}
}
