package factory

import (
	"fmt"

	"github.com/mikey/phish-gateway/internal/adapters/classifier"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// ClassifierFactory creates the ML scoring stage
type ClassifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	redis  *RedisFactory
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger, redis *RedisFactory) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:    cfg,
		logger: logger,
		redis:  redis,
	}
}

// CreateScorer returns nil when ML scoring is disabled.
// The model itself is loaded on the first Score call.
func (f *ClassifierFactory) CreateScorer() (core.Scorer, error) {
	if !f.cfg.GetPipeline().MLEnabled {
		return nil, nil
	}

	clsCfg := f.cfg.GetClassifier()
	var loader classifier.Loader
	switch clsCfg.Source {
	case "file":
		loader = classifier.FileLoader{Path: clsCfg.ModelPath}
	case "redis":
		client, err := f.redis.Client()
		if err != nil {
			return nil, err
		}
		loader = classifier.RedisLoader{Client: client, Key: clsCfg.RedisKey}
	default:
		return nil, fmt.Errorf("unsupported classifier source: %s", clsCfg.Source)
	}

	f.logger.Info("ML scoring enabled", zap.String("source", clsCfg.Source))
	return classifier.New(loader, f.logger.Named("classifier")), nil
}
