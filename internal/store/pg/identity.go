package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
)

// FindIdentity loads one user row by ID. Returns auth.ErrIdentityNotFound
// when no row exists; deactivated users are returned with DeactivatedAt set
// so callers decide how to treat them.
func (s *Store) FindIdentity(ctx context.Context, id string) (auth.Identity, error) {
	const q = `
SELECT id, email, role, scopes, patient_id, password_hash, deactivated_at
FROM users WHERE id = $1`
	return s.scanIdentity(s.db.QueryRowContext(ctx, q, id))
}

// FindIdentityByEmail loads one user row by email, for login.
func (s *Store) FindIdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	const q = `
SELECT id, email, role, scopes, patient_id, password_hash, deactivated_at
FROM users WHERE email = $1`
	return s.scanIdentity(s.db.QueryRowContext(ctx, q, email))
}

func (s *Store) scanIdentity(row *sql.Row) (auth.Identity, error) {
	var (
		ident         auth.Identity
		role          string
		scopesJSON    []byte
		patientID     sql.NullString
		deactivatedAt sql.NullTime
	)
	err := row.Scan(&ident.ID, &ident.Email, &role, &scopesJSON, &patientID, &ident.PasswordHash, &deactivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrIdentityNotFound
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("pg: scan identity: %w", err)
	}
	ident.Role = auth.Role(role)
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &ident.Scopes); err != nil {
			return auth.Identity{}, fmt.Errorf("pg: decode scopes: %w", err)
		}
	}
	if patientID.Valid {
		ident.PatientID = patientID.String
	}
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		ident.DeactivatedAt = &t
	}
	return ident, nil
}

// CreateIdentity inserts a new user, committing its audit record in the
// same transaction.
func (s *Store) CreateIdentity(ctx context.Context, ident auth.Identity, createdAt time.Time, a *audit.Record) error {
	scopesJSON, err := json.Marshal(ident.Scopes)
	if err != nil {
		return fmt.Errorf("pg: encode scopes: %w", err)
	}
	if ident.Scopes == nil {
		scopesJSON = []byte("[]")
	}
	const q = `
INSERT INTO users (id, email, role, scopes, patient_id, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			ident.ID, ident.Email, string(ident.Role), scopesJSON,
			nullString(ident.PatientID), ident.PasswordHash, createdAt.UTC())
		if err != nil {
			return fmt.Errorf("pg: insert user: %w", err)
		}
		return nil
	})
}

// DeactivateIdentity tombstones a user. The row survives so the audit trail
// keeps a resolvable principal.
func (s *Store) DeactivateIdentity(ctx context.Context, id string, at time.Time, a *audit.Record) error {
	const q = `UPDATE users SET deactivated_at = $2 WHERE id = $1 AND deactivated_at IS NULL`
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, id, at.UTC())
		if err != nil {
			return fmt.Errorf("pg: deactivate user: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("pg: deactivate user: %w", err)
		}
		if n == 0 {
			return auth.ErrIdentityNotFound
		}
		return nil
	})
}

// HasActiveLink reports whether principalID has an unrevoked care
// relationship with patientID.
func (s *Store) HasActiveLink(ctx context.Context, principalID, patientID string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM patient_links
  WHERE principal_id = $1 AND patient_id = $2 AND revoked_at IS NULL
)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, principalID, patientID).Scan(&exists); err != nil {
		return false, fmt.Errorf("pg: check patient link: %w", err)
	}
	return exists, nil
}

// GrantLink creates or restores a care relationship.
func (s *Store) GrantLink(ctx context.Context, principalID, patientID string, at time.Time, a *audit.Record) error {
	const q = `
INSERT INTO patient_links (principal_id, patient_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (principal_id, patient_id) DO UPDATE SET revoked_at = NULL`
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q, principalID, patientID, at.UTC()); err != nil {
			return fmt.Errorf("pg: grant patient link: %w", err)
		}
		return nil
	})
}

// RevokeLink ends a care relationship, keeping the row for history.
func (s *Store) RevokeLink(ctx context.Context, principalID, patientID string, at time.Time, a *audit.Record) error {
	const q = `
UPDATE patient_links SET revoked_at = $3
WHERE principal_id = $1 AND patient_id = $2 AND revoked_at IS NULL`
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q, principalID, patientID, at.UTC()); err != nil {
			return fmt.Errorf("pg: revoke patient link: %w", err)
		}
		return nil
	})
}
