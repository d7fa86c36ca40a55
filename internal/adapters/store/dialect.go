package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the SQL differences between the supported databases
type Dialect struct {
	Name   string
	Driver string

	types        *strings.Replacer
	numbered     bool
	insertIgnore string
	ignoreSuffix string
	forUpdate    string
	upsertPolicy string
}

var (
	SQLite = Dialect{
		Name:         "sqlite",
		Driver:       "sqlite3",
		types:        strings.NewReplacer("{key}", "TEXT", "{text}", "TEXT", "{long}", "TEXT", "{real}", "REAL", "{ts}", "TIMESTAMP", "{bigint}", "INTEGER", "{bool}", "BOOLEAN"),
		insertIgnore: "INSERT OR IGNORE INTO",
		upsertPolicy: "ON CONFLICT (list_type, value) DO UPDATE SET active = excluded.active, entry_type = excluded.entry_type",
	}
	MySQL = Dialect{
		Name:         "mysql",
		Driver:       "mysql",
		types:        strings.NewReplacer("{key}", "VARCHAR(255)", "{text}", "TEXT", "{long}", "LONGTEXT", "{real}", "DOUBLE", "{ts}", "DATETIME(6)", "{bigint}", "BIGINT", "{bool}", "BOOLEAN"),
		insertIgnore: "INSERT IGNORE INTO",
		forUpdate:    " FOR UPDATE",
		upsertPolicy: "ON DUPLICATE KEY UPDATE active = VALUES(active), entry_type = VALUES(entry_type)",
	}
	Postgres = Dialect{
		Name:         "postgres",
		Driver:       "postgres",
		types:        strings.NewReplacer("{key}", "VARCHAR(255)", "{text}", "TEXT", "{long}", "TEXT", "{real}", "DOUBLE PRECISION", "{ts}", "TIMESTAMPTZ", "{bigint}", "BIGINT", "{bool}", "BOOLEAN"),
		numbered:     true,
		insertIgnore: "INSERT INTO",
		ignoreSuffix: " ON CONFLICT (message_id) DO NOTHING",
		forUpdate:    " FOR UPDATE",
		upsertPolicy: "ON CONFLICT (list_type, value) DO UPDATE SET active = EXCLUDED.active, entry_type = EXCLUDED.entry_type",
	}
)

// DialectByName returns the dialect for a storage.type value
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported SQL dialect: %s", name)
	}
}

// rebind rewrites ? placeholders into $n for numbered dialects
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	out := make([]string, 0, len(schemaTemplate))
	for _, stmt := range schemaTemplate {
		out = append(out, d.types.Replace(stmt))
	}
	return out
}

var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS emails (
		id {key} PRIMARY KEY,
		message_id {key} NOT NULL UNIQUE,
		sender {key} NOT NULL,
		display_name {text},
		recipients {long},
		reply_to {text},
		subject {text},
		body_text {long},
		body_html {long},
		headers {long},
		urls {long},
		attachments {long},
		auth_results {text},
		received_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cases (
		id {key} PRIMARY KEY,
		case_number {bigint} NOT NULL UNIQUE,
		email_id {key} NOT NULL UNIQUE,
		status VARCHAR(20) NOT NULL,
		final_score {real},
		risk_level VARCHAR(10),
		verdict VARCHAR(20),
		category VARCHAR(30),
		pipeline_ms {bigint},
		resolution {text},
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS analyses (
		id {key} PRIMARY KEY,
		case_id {key} NOT NULL,
		stage VARCHAR(20) NOT NULL,
		score {real},
		confidence {real} NOT NULL,
		explanation {long},
		metadata {long},
		execution_ms {bigint},
		created_at {ts} NOT NULL,
		UNIQUE (case_id, stage)
	)`,
	`CREATE TABLE IF NOT EXISTS evidence (
		id {key} PRIMARY KEY,
		analysis_id {key} NOT NULL,
		type VARCHAR(64) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		description {text},
		data {long}
	)`,
	`CREATE TABLE IF NOT EXISTS policy_entries (
		id {key} PRIMARY KEY,
		list_type VARCHAR(10) NOT NULL,
		entry_type VARCHAR(10) NOT NULL,
		value {key} NOT NULL,
		active {bool} NOT NULL,
		created_at {ts} NOT NULL,
		UNIQUE (list_type, value)
	)`,
}

// isUniqueViolation reports whether err is a unique constraint failure in any
// of the supported drivers
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
