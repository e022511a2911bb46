// Package pg is the Postgres persistence layer. It backs identity lookups,
// patient relationships, clinical records, document metadata and the
// append-only audit log, accessed through database/sql over the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
)

// Store wraps the shared connection pool.
type Store struct {
	db *sql.DB
}

// New wraps an existing handle, mainly for tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertAuditSQL = `
INSERT INTO audit_log (id, principal_id, action, resource_type, resource_id, patient_id, status_code, client_ip, request_id, details, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

// appendAudit inserts one audit row. The conflict clause makes the insert
// idempotent on record ID for retried writes.
func appendAudit(ctx context.Context, ex execer, rec *audit.Record) error {
	details := []byte("{}")
	if len(rec.Details) > 0 {
		b, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("pg: marshal audit details: %w", err)
		}
		details = b
	}
	_, err := ex.ExecContext(ctx, insertAuditSQL,
		rec.ID,
		nullString(rec.PrincipalID),
		string(rec.Action),
		nullString(rec.ResourceType),
		nullString(rec.ResourceID),
		nullString(rec.PatientID),
		rec.StatusCode,
		nullString(rec.ClientIP),
		nullString(rec.RequestID),
		details,
		rec.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("pg: insert audit record: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
