package core

import (
	"context"
)

// PolicyStore provides read access to allow/block lists
type PolicyStore interface {
	// ActiveEntries returns the lowercased values of all active entries of a list
	ActiveEntries(ctx context.Context, listType ListType) (map[string]struct{}, error)
}

// Repository persists emails, cases, analyses and policy entries
type Repository interface {
	PolicyStore

	// SaveEmail stores an email, returning the existing record on a duplicate Message-ID
	SaveEmail(ctx context.Context, email *Email) (stored *Email, created bool, err error)
	GetEmail(ctx context.Context, id string) (*Email, error)

	GetOrCreateCase(ctx context.Context, emailID string) (*Case, error)
	GetCase(ctx context.Context, id string) (*Case, error)
	// UpdateCase persists case fields; status may only move forward
	UpdateCase(ctx context.Context, c *Case) error
	// ResolveCase moves a case to resolved under an exclusive per-case lock
	ResolveCase(ctx context.Context, id string, resolution string) (*Case, error)

	// SaveAnalysis stores an analysis and its evidence; one per case and stage
	SaveAnalysis(ctx context.Context, a *Analysis) error
	ListAnalyses(ctx context.Context, caseID string) ([]*Analysis, error)

	AddPolicyEntry(ctx context.Context, entry *PolicyEntry) error

	Close() error
}

// Scorer is a text classifier consumed by the pipeline
type Scorer interface {
	Score(ctx context.Context, text string) ScoreResult
}

// Explainer produces a rationale and secondary score; it never fails
type Explainer interface {
	Explain(ctx context.Context, req ExplainRequest) ExplainResult
}

// ExplanationProvider is a single LLM backend that may fail
type ExplanationProvider interface {
	Name() string
	Explain(ctx context.Context, req ExplainRequest) (ExplainResult, error)
}

// Relay forwards a message downstream; it is best-effort
type Relay interface {
	Forward(ctx context.Context, raw []byte, sender string, recipients []string, metadata map[string]string) bool
}

// QuarantineStorage is a durable store of raw messages keyed by case ID
type QuarantineStorage interface {
	Store(ctx context.Context, caseID string, raw []byte) error
	Retrieve(ctx context.Context, caseID string) ([]byte, error)
	Delete(ctx context.Context, caseID string) error
}
