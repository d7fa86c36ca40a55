package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/phish-gateway/internal/adapters/policy"
	"github.com/mikey/phish-gateway/internal/adapters/store"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates the repository based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRepository creates the repository and imports the policy seed file if one is set
func (f *StoreFactory) CreateRepository(ctx context.Context) (core.Repository, error) {
	storageCfg := f.cfg.GetStorage()

	repo, err := f.open(storageCfg)
	if err != nil {
		return nil, err
	}

	if storageCfg.SeedFile != "" {
		if _, err := policy.NewImporter(repo, f.logger).ImportFile(ctx, storageCfg.SeedFile); err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to seed policy: %w", err)
		}
	}
	return repo, nil
}

func (f *StoreFactory) open(storageCfg config.StorageConfig) (core.Repository, error) {
	logger := f.logger.Named("store")

	switch storageCfg.Type {
	case "memory":
		return store.NewMemoryStore(logger), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storageCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLStore(store.SQLite, storageCfg.SQLitePath, logger)
	case "mysql":
		return store.NewSQLStore(store.MySQL, storageCfg.MySQLDSN, logger)
	case "postgres":
		return store.NewSQLStore(store.Postgres, storageCfg.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageCfg.Type)
	}
}
