package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

const caseNumberRetries = 3

// SQLStore is a database/sql implementation of the Repository interface
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewSQLStore opens the database and creates the schema if needed
func NewSQLStore(dialect Dialect, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name, err)
	}

	if dialect.Name == SQLite.Name {
		// SQLite allows a single writer; serialising connections turns every
		// transaction into the exclusive write transaction ResolveCase needs.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	for _, stmt := range dialect.schema() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLStore{db: db, dialect: dialect, logger: logger}, nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// SaveEmail inserts an email, ignoring a duplicate Message-ID, and returns the stored row
func (s *SQLStore) SaveEmail(ctx context.Context, email *core.Email) (*core.Email, bool, error) {
	id := email.ID
	if id == "" {
		id = uuid.NewString()
	}
	receivedAt := email.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	recipients, _ := json.Marshal(email.To)
	headers, _ := json.Marshal(email.Headers)
	urls, _ := json.Marshal(email.URLs)
	attachments, _ := json.Marshal(email.Attachments)
	auth, _ := json.Marshal(email.AuthResults)

	query := s.dialect.insertIgnore + ` emails (
			id, message_id, sender, display_name, recipients, reply_to, subject,
			body_text, body_html, headers, urls, attachments, auth_results, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` + s.dialect.ignoreSuffix

	res, err := s.db.ExecContext(ctx, s.q(query),
		id, email.MessageID, email.From, email.FromDisplayName, string(recipients), email.ReplyTo, email.Subject,
		email.BodyText, email.BodyHTML, string(headers), string(urls), string(attachments), string(auth), receivedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert email: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}
	if !created {
		s.logger.Debug("Duplicate message, returning stored email", zap.String("message_id", email.MessageID))
	}

	stored, err := s.scanEmail(s.db.QueryRowContext(ctx, s.q(selectEmail+` WHERE message_id = ?`), email.MessageID))
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

const selectEmail = `
	SELECT id, message_id, sender, display_name, recipients, reply_to, subject,
	       body_text, body_html, headers, urls, attachments, auth_results, received_at
	FROM emails`

// GetEmail retrieves an email by ID
func (s *SQLStore) GetEmail(ctx context.Context, id string) (*core.Email, error) {
	return s.scanEmail(s.db.QueryRowContext(ctx, s.q(selectEmail+` WHERE id = ?`), id))
}

func (s *SQLStore) scanEmail(row *sql.Row) (*core.Email, error) {
	var (
		email                                         core.Email
		display, replyTo, subject, bodyText, bodyHTML sql.NullString
		recipients, headers, urls, attachments, auth  sql.NullString
	)
	err := row.Scan(
		&email.ID, &email.MessageID, &email.From, &display, &recipients, &replyTo, &subject,
		&bodyText, &bodyHTML, &headers, &urls, &attachments, &auth, &email.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query email: %w", err)
	}

	email.FromDisplayName = display.String
	email.ReplyTo = replyTo.String
	email.Subject = subject.String
	email.BodyText = bodyText.String
	email.BodyHTML = bodyHTML.String
	unmarshal(recipients, &email.To)
	unmarshal(headers, &email.Headers)
	unmarshal(urls, &email.URLs)
	unmarshal(attachments, &email.Attachments)
	unmarshal(auth, &email.AuthResults)
	if email.AuthResults == nil {
		email.AuthResults = map[string]string{}
	}
	return &email, nil
}

const selectCase = `
	SELECT id, case_number, email_id, status, final_score, risk_level, verdict,
	       category, pipeline_ms, resolution, created_at, updated_at
	FROM cases`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*core.Case, error) {
	var (
		c                                   core.Case
		score                               sql.NullFloat64
		risk, verdict, category, resolution sql.NullString
		pipelineMS                          sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Number, &c.EmailID, &c.Status, &score, &risk, &verdict,
		&category, &pipelineMS, &resolution, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query case: %w", err)
	}

	if score.Valid {
		v := score.Float64
		c.FinalScore = &v
	}
	c.RiskLevel = core.RiskLevel(risk.String)
	c.Verdict = core.Verdict(verdict.String)
	c.Category = core.ThreatCategory(category.String)
	c.PipelineDuration = time.Duration(pipelineMS.Int64) * time.Millisecond
	c.Resolution = resolution.String
	return &c, nil
}

// GetOrCreateCase returns the case of an email, creating a pending one with
// the next case number if none exists
func (s *SQLStore) GetOrCreateCase(ctx context.Context, emailID string) (*core.Case, error) {
	if c, err := scanCase(s.db.QueryRowContext(ctx, s.q(selectCase+` WHERE email_id = ?`), emailID)); err == nil {
		return c, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if _, err := s.GetEmail(ctx, emailID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < caseNumberRetries; attempt++ {
		err := s.insertCase(ctx, emailID)
		if err == nil || isUniqueViolation(err) {
			// Either we created it or a concurrent run did.
			c, qerr := scanCase(s.db.QueryRowContext(ctx, s.q(selectCase+` WHERE email_id = ?`), emailID))
			if qerr == nil {
				return c, nil
			}
			if !errors.Is(qerr, core.ErrNotFound) {
				return nil, qerr
			}
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to allocate case number for email %s", emailID)
}

func (s *SQLStore) insertCase(ctx context.Context, emailID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(case_number), 0) + 1 FROM cases`).Scan(&next); err != nil {
		return fmt.Errorf("failed to compute case number: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO cases (id, case_number, email_id, status, pipeline_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`),
		uuid.NewString(), next, emailID, core.StatusPending, now, now)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetCase retrieves a case by ID
func (s *SQLStore) GetCase(ctx context.Context, id string) (*core.Case, error) {
	return scanCase(s.db.QueryRowContext(ctx, s.q(selectCase+` WHERE id = ?`), id))
}

// UpdateCase persists case fields, refusing backwards status moves
func (s *SQLStore) UpdateCase(ctx context.Context, c *core.Case) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateTx(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) updateTx(ctx context.Context, tx *sql.Tx, c *core.Case) error {
	var current core.CaseStatus
	err := tx.QueryRowContext(ctx, s.q(`SELECT status FROM cases WHERE id = ?`+s.dialect.forUpdate), c.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock case: %w", err)
	}
	if !current.CanTransition(c.Status) {
		return core.ErrInvalidTransition
	}

	var score sql.NullFloat64
	if c.FinalScore != nil {
		score = sql.NullFloat64{Float64: *c.FinalScore, Valid: true}
	}
	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE cases
		SET status = ?, final_score = ?, risk_level = ?, verdict = ?, category = ?,
		    pipeline_ms = ?, resolution = ?, updated_at = ?
		WHERE id = ?`),
		c.Status, score, c.RiskLevel, c.Verdict, c.Category,
		c.PipelineDuration.Milliseconds(), c.Resolution, time.Now().UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	return nil
}

// ResolveCase marks a case resolved while holding its row lock
func (s *SQLStore) ResolveCase(ctx context.Context, id string, resolution string) (*core.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	c, err := scanCase(tx.QueryRowContext(ctx, s.q(selectCase+` WHERE id = ?`+s.dialect.forUpdate), id))
	if err != nil {
		return nil, err
	}
	c.Status = core.StatusResolved
	c.Resolution = resolution
	if err := s.updateTx(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}
	return s.GetCase(ctx, id)
}

// SaveAnalysis stores an analysis and its evidence in one transaction
func (s *SQLStore) SaveAnalysis(ctx context.Context, a *core.Analysis) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis metadata: %w", err)
	}
	var score sql.NullFloat64
	if a.Score != nil {
		score = sql.NullFloat64{Float64: *a.Score, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO analyses (id, case_id, stage, score, confidence, explanation, metadata, execution_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.CaseID, a.Stage, score, a.Confidence, a.Explanation, string(metadata),
		a.ExecutionTime.Milliseconds(), a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateAnalysis
		}
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	for i := range a.Evidence {
		ev := &a.Evidence[i]
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		ev.AnalysisID = a.ID
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal evidence data: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO evidence (id, analysis_id, type, severity, description, data)
			VALUES (?, ?, ?, ?, ?, ?)`),
			ev.ID, ev.AnalysisID, ev.Type, ev.Severity, ev.Description, string(data))
		if err != nil {
			return fmt.Errorf("failed to insert evidence: %w", err)
		}
	}

	return tx.Commit()
}

// ListAnalyses returns the analyses of a case with their evidence
func (s *SQLStore) ListAnalyses(ctx context.Context, caseID string) ([]*core.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, case_id, stage, score, confidence, explanation, metadata, execution_ms, created_at
		FROM analyses
		WHERE case_id = ?
		ORDER BY created_at ASC`), caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []*core.Analysis
	for rows.Next() {
		var (
			a                     core.Analysis
			score                 sql.NullFloat64
			explanation, metadata sql.NullString
			executionMS           sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.CaseID, &a.Stage, &score, &a.Confidence, &explanation,
			&metadata, &executionMS, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		if score.Valid {
			v := score.Float64
			a.Score = &v
		}
		a.Explanation = explanation.String
		a.ExecutionTime = time.Duration(executionMS.Int64) * time.Millisecond
		unmarshal(metadata, &a.Metadata)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, a := range out {
		if a.Evidence, err = s.listEvidence(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) listEvidence(ctx context.Context, analysisID string) ([]core.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, analysis_id, type, severity, description, data
		FROM evidence
		WHERE analysis_id = ?`), analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var out []core.Evidence
	for rows.Next() {
		var (
			ev                core.Evidence
			description, data sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.AnalysisID, &ev.Type, &ev.Severity, &description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		ev.Description = description.String
		unmarshal(data, &ev.Data)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ActiveEntries returns the lowercased values of the active entries of a list
func (s *SQLStore) ActiveEntries(ctx context.Context, listType core.ListType) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT value FROM policy_entries WHERE list_type = ? AND active = ?`), listType, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan policy entry: %w", err)
		}
		out[strings.ToLower(v)] = struct{}{}
	}
	return out, rows.Err()
}

// AddPolicyEntry inserts an entry or updates the one with the same list and value
func (s *SQLStore) AddPolicyEntry(ctx context.Context, entry *core.PolicyEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO policy_entries (id, list_type, entry_type, value, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?) `+s.dialect.upsertPolicy),
		entry.ID, entry.ListType, entry.EntryType, strings.ToLower(strings.TrimSpace(entry.Value)),
		entry.Active, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert policy entry: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func unmarshal(src sql.NullString, dst interface{}) {
	if !src.Valid || src.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(src.String), dst)
}
