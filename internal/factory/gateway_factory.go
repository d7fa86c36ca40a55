package factory

import (
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/gateway"
	"github.com/mikey/phish-gateway/internal/parser"
	"github.com/mikey/phish-gateway/internal/pipeline"
	"github.com/mikey/phish-gateway/internal/ports"
	"go.uber.org/zap"
)

// GatewayFactory creates the SMTP gateway
type GatewayFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewGatewayFactory creates a new gateway factory
func NewGatewayFactory(cfg *config.Config, logger *zap.Logger) *GatewayFactory {
	return &GatewayFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateGateway creates the SMTP gateway in front of the downstream relay
func (f *GatewayFactory) CreateGateway(
	repo core.Repository,
	orchestrator *pipeline.Orchestrator,
	relay core.Relay,
	quarantine core.QuarantineStorage,
) ports.Gateway {
	return gateway.New(
		f.cfg.GetGateway(),
		parser.New(f.logger.Named("parser"),
			parser.WithTrustedAuthservIDs(f.cfg.GetParser().TrustedAuthservIDs)),
		repo,
		orchestrator,
		relay,
		quarantine,
		f.logger.Named("gateway"),
	)
}
