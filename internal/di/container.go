package di

import (
	"context"

	"go.uber.org/dig"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/factory"
	"github.com/mikey/phish-gateway/internal/logging"
	"github.com/mikey/phish-gateway/internal/pipeline"
	"github.com/mikey/phish-gateway/internal/ports"
	"github.com/mikey/phish-gateway/internal/utils"
)

// BuildContainer creates and configures the dependency injection container for the gateway
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideComponents(container); err != nil {
		return nil, err
	}

	// Register gateway
	if err := container.Provide(factory.NewGatewayFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(func(
		f *factory.GatewayFactory,
		repo core.Repository,
		orchestrator *pipeline.Orchestrator,
		relay core.Relay,
		quarantine core.QuarantineStorage,
	) ports.Gateway {
		return f.CreateGateway(repo, orchestrator, relay, quarantine)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideComponents registers everything below the SMTP surface. Config and logger must
// already be provided. dig builds components lazily, so only what a caller invokes is created.
func provideComponents(container *dig.Container) error {
	// Register factories
	factories := []interface{}{
		factory.NewTextProcessorFactory,
		factory.NewExplainerFactory,
		factory.NewStoreFactory,
		factory.NewRedisFactory,
		factory.NewRelayFactory,
		factory.NewQuarantineFactory,
		factory.NewClassifierFactory,
		factory.NewPipelineFactory,
	}
	for _, constructor := range factories {
		if err := container.Provide(constructor); err != nil {
			return err
		}
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return err
	}

	// Register repository
	if err := container.Provide(func(f *factory.StoreFactory) (core.Repository, error) {
		return f.CreateRepository(context.Background())
	}); err != nil {
		return err
	}

	// Register scoring and explanation stages
	if err := container.Provide(func(f *factory.ClassifierFactory) (core.Scorer, error) {
		return f.CreateScorer()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.ExplainerFactory) (core.Explainer, error) {
		return f.CreateExplainer(context.Background())
	}); err != nil {
		return err
	}

	// Register delivery collaborators
	if err := container.Provide(func(f *factory.RelayFactory) (core.Relay, error) {
		return f.CreateRelay(context.Background())
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.QuarantineFactory) (core.QuarantineStorage, error) {
		return f.CreateQuarantine()
	}); err != nil {
		return err
	}

	// Register orchestrator
	return container.Provide(func(
		f *factory.PipelineFactory,
		repo core.Repository,
		scorer core.Scorer,
		explainer core.Explainer,
	) *pipeline.Orchestrator {
		return f.CreateOrchestrator(repo, scorer, explainer)
	})
}
