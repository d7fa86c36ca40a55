package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/mikey/phish-gateway/internal/adapters/relay"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// RelayFactory creates the downstream relay based on configuration
type RelayFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRelayFactory creates a new relay factory
func NewRelayFactory(cfg *config.Config, logger *zap.Logger) *RelayFactory {
	return &RelayFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRelay creates an SMTP or SES relay
func (f *RelayFactory) CreateRelay(ctx context.Context) (core.Relay, error) {
	relayCfg := f.cfg.GetRelay()
	logger := f.logger.Named("relay")

	switch relayCfg.Type {
	case "smtp":
		return relay.NewSMTPRelay(relayCfg, logger), nil
	case "ses":
		sesCfg := f.cfg.GetSES()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(sesCfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return relay.NewSESRelay(sesv2.NewFromConfig(awsCfg), sesCfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported relay type: %s", relayCfg.Type)
	}
}
