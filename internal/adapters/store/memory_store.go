package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the Repository interface
type MemoryStore struct {
	mu          sync.RWMutex
	emails      map[string]*core.Email
	byMessageID map[string]string
	cases       map[string]*core.Case
	byEmail     map[string]string
	analyses    map[string][]*core.Analysis
	policy      []*core.PolicyEntry
	caseLocks   map[string]*sync.Mutex
	nextNumber  int64
	logger      *zap.Logger
}

// NewMemoryStore creates a new in-memory repository
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		emails:      make(map[string]*core.Email),
		byMessageID: make(map[string]string),
		cases:       make(map[string]*core.Case),
		byEmail:     make(map[string]string),
		analyses:    make(map[string][]*core.Analysis),
		caseLocks:   make(map[string]*sync.Mutex),
		logger:      logger,
	}
}

// SaveEmail stores an email unless one with the same Message-ID exists
func (s *MemoryStore) SaveEmail(ctx context.Context, email *core.Email) (*core.Email, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byMessageID[email.MessageID]; ok {
		s.logger.Debug("Duplicate message, returning stored email", zap.String("message_id", email.MessageID))
		return copyEmail(s.emails[id]), false, nil
	}

	stored := copyEmail(email)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.ReceivedAt.IsZero() {
		stored.ReceivedAt = time.Now().UTC()
	}
	s.emails[stored.ID] = stored
	s.byMessageID[stored.MessageID] = stored.ID

	return copyEmail(stored), true, nil
}

// GetEmail retrieves an email by ID
func (s *MemoryStore) GetEmail(ctx context.Context, id string) (*core.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emails[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyEmail(email), nil
}

// GetOrCreateCase returns the case of an email, creating a pending one if needed
func (s *MemoryStore) GetOrCreateCase(ctx context.Context, emailID string) (*core.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[emailID]; !ok {
		return nil, core.ErrNotFound
	}
	if id, ok := s.byEmail[emailID]; ok {
		return copyCase(s.cases[id]), nil
	}

	s.nextNumber++
	now := time.Now().UTC()
	c := &core.Case{
		ID:        uuid.NewString(),
		Number:    s.nextNumber,
		EmailID:   emailID,
		Status:    core.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.cases[c.ID] = c
	s.byEmail[emailID] = c.ID
	s.caseLocks[c.ID] = &sync.Mutex{}

	return copyCase(c), nil
}

// GetCase retrieves a case by ID
func (s *MemoryStore) GetCase(ctx context.Context, id string) (*core.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyCase(c), nil
}

// UpdateCase persists case fields, refusing backwards status moves
func (s *MemoryStore) UpdateCase(ctx context.Context, c *core.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(c)
}

func (s *MemoryStore) updateLocked(c *core.Case) error {
	stored, ok := s.cases[c.ID]
	if !ok {
		return core.ErrNotFound
	}
	if !stored.Status.CanTransition(c.Status) {
		return core.ErrInvalidTransition
	}

	updated := copyCase(c)
	updated.Number = stored.Number
	updated.EmailID = stored.EmailID
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	s.cases[c.ID] = updated
	return nil
}

// ResolveCase marks a case resolved while holding its lock
func (s *MemoryStore) ResolveCase(ctx context.Context, id string, resolution string) (*core.Case, error) {
	s.mu.RLock()
	lock, ok := s.caseLocks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyCase(s.cases[id])
	c.Status = core.StatusResolved
	c.Resolution = resolution
	if err := s.updateLocked(c); err != nil {
		return nil, err
	}
	return copyCase(s.cases[id]), nil
}

// SaveAnalysis stores a stage result and its evidence
func (s *MemoryStore) SaveAnalysis(ctx context.Context, a *core.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[a.CaseID]; !ok {
		return core.ErrNotFound
	}
	for _, existing := range s.analyses[a.CaseID] {
		if existing.Stage == a.Stage {
			return core.ErrDuplicateAnalysis
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	for i := range a.Evidence {
		if a.Evidence[i].ID == "" {
			a.Evidence[i].ID = uuid.NewString()
		}
		a.Evidence[i].AnalysisID = a.ID
	}

	s.analyses[a.CaseID] = append(s.analyses[a.CaseID], copyAnalysis(a))
	return nil
}

// ListAnalyses returns the analyses of a case in insertion order
func (s *MemoryStore) ListAnalyses(ctx context.Context, caseID string) ([]*core.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Analysis, 0, len(s.analyses[caseID]))
	for _, a := range s.analyses[caseID] {
		out = append(out, copyAnalysis(a))
	}
	return out, nil
}

// ActiveEntries returns the lowercased values of the active entries of a list
func (s *MemoryStore) ActiveEntries(ctx context.Context, listType core.ListType) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{})
	for _, e := range s.policy {
		if e.Active && e.ListType == listType {
			out[strings.ToLower(e.Value)] = struct{}{}
		}
	}
	return out, nil
}

// AddPolicyEntry adds an entry, reactivating an existing one with the same value
func (s *MemoryStore) AddPolicyEntry(ctx context.Context, entry *core.PolicyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := strings.ToLower(strings.TrimSpace(entry.Value))
	for _, e := range s.policy {
		if e.ListType == entry.ListType && e.Value == value {
			e.Active = entry.Active
			e.EntryType = entry.EntryType
			entry.ID = e.ID
			return nil
		}
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	stored := *entry
	stored.Value = value
	s.policy = append(s.policy, &stored)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

func copyEmail(e *core.Email) *core.Email {
	c := *e
	c.To = append([]string(nil), e.To...)
	c.URLs = append([]string(nil), e.URLs...)
	c.Attachments = append([]core.Attachment(nil), e.Attachments...)
	c.Headers = make(map[string][]string, len(e.Headers))
	for k, v := range e.Headers {
		c.Headers[k] = append([]string(nil), v...)
	}
	c.AuthResults = make(map[string]string, len(e.AuthResults))
	for k, v := range e.AuthResults {
		c.AuthResults[k] = v
	}
	return &c
}

func copyCase(c *core.Case) *core.Case {
	out := *c
	if c.FinalScore != nil {
		score := *c.FinalScore
		out.FinalScore = &score
	}
	return &out
}

func copyAnalysis(a *core.Analysis) *core.Analysis {
	out := *a
	if a.Score != nil {
		score := *a.Score
		out.Score = &score
	}
	out.Evidence = append([]core.Evidence(nil), a.Evidence...)
	return &out
}
