package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/metrics"
	"go.uber.org/zap"
)

// ErrNotQuarantined is returned when releasing a case that is not held
var ErrNotQuarantined = errors.New("case is not quarantined")

// Releaser delivers held messages to their recipients after review
type Releaser struct {
	repo       core.Repository
	quarantine core.QuarantineStorage
	relay      core.Relay
	logger     *zap.Logger
}

// NewReleaser creates a new quarantine releaser
func NewReleaser(repo core.Repository, quarantine core.QuarantineStorage, relay core.Relay, logger *zap.Logger) *Releaser {
	return &Releaser{
		repo:       repo,
		quarantine: quarantine,
		relay:      relay,
		logger:     logger,
	}
}

// Release relays the held message unmodified, removes it from quarantine and resolves the case
func (r *Releaser) Release(ctx context.Context, caseID string) (*core.Case, error) {
	c, err := r.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", caseID, err)
	}
	if c.Status != core.StatusQuarantined {
		return nil, fmt.Errorf("case %s is %s: %w", caseID, c.Status, ErrNotQuarantined)
	}

	email, err := r.repo.GetEmail(ctx, c.EmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email for case %s: %w", caseID, err)
	}

	raw, err := r.quarantine.Retrieve(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve quarantined message: %w", err)
	}

	if !r.relay.Forward(ctx, raw, email.From, email.To, map[string]string{"case_id": caseID, "released": "true"}) {
		metrics.RelayFailures.Inc()
		return nil, fmt.Errorf("relay did not accept released message for case %s", caseID)
	}

	if err := r.quarantine.Delete(ctx, caseID); err != nil {
		r.logger.Warn("Failed to delete released message", zap.String("case_id", caseID), zap.Error(err))
	}

	resolved, err := r.repo.ResolveCase(ctx, caseID, "released")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve case %s: %w", caseID, err)
	}

	r.logger.Info("Quarantined message released",
		zap.String("case_id", caseID),
		zap.Int64("case_number", resolved.Number),
		zap.Strings("recipients", email.To))
	return resolved, nil
}
