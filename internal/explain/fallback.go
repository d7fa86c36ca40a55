package explain

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// Fallback tries each provider in order and never fails. When every
// provider errors it returns a neutral, unavailable result.
type Fallback struct {
	providers []core.ExplanationProvider
	logger    *zap.Logger
}

// NewFallback creates an explainer over the given providers; nil entries are skipped
func NewFallback(logger *zap.Logger, providers ...core.ExplanationProvider) *Fallback {
	f := &Fallback{logger: logger}
	for _, p := range providers {
		if p != nil {
			f.providers = append(f.providers, p)
		}
	}
	return f
}

// Explain implements core.Explainer
func (f *Fallback) Explain(ctx context.Context, req core.ExplainRequest) core.ExplainResult {
	for _, p := range f.providers {
		if ctx.Err() != nil {
			break
		}
		res, err := f.call(ctx, p, req)
		if err != nil {
			f.logger.Warn("Explanation provider failed", zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		if res.ProviderID == "" {
			res.ProviderID = p.Name()
		}
		return res
	}

	return core.ExplainResult{
		Explanation: "No explanation provider was available",
		ProviderID:  "none",
		Available:   false,
	}
}

func (f *Fallback) call(ctx context.Context, p core.ExplanationProvider, req core.ExplainRequest) (res core.ExplainResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return p.Explain(ctx, req)
}

// Close closes every provider that holds a client connection
func (f *Fallback) Close() error {
	var errs []error
	for _, p := range f.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
