package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/emr"
)

// CreateRecord inserts the record and its audit row in one transaction.
func (s *Store) CreateRecord(ctx context.Context, rec *emr.Record, a *audit.Record) error {
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		const q = `
INSERT INTO clinical_records (id, patient_id, author_id, category, title, body, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := tx.ExecContext(ctx, q,
			rec.ID, rec.PatientID, rec.AuthorID, rec.Category,
			rec.Title, rec.Body, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("pg: insert record: %w", err)
		}
		return nil
	})
}

// GetRecord loads one live record scoped to its patient.
func (s *Store) GetRecord(ctx context.Context, patientID, recordID string) (emr.Record, error) {
	const q = `
SELECT id, patient_id, author_id, category, title, body, created_at, updated_at
FROM clinical_records
WHERE id = $1 AND patient_id = $2 AND deleted_at IS NULL`
	var rec emr.Record
	err := s.db.QueryRowContext(ctx, q, recordID, patientID).Scan(
		&rec.ID, &rec.PatientID, &rec.AuthorID, &rec.Category,
		&rec.Title, &rec.Body, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return emr.Record{}, emr.ErrNotFound
	}
	if err != nil {
		return emr.Record{}, fmt.Errorf("pg: get record: %w", err)
	}
	return rec, nil
}

// ListRecords returns live records for a patient, newest first.
func (s *Store) ListRecords(ctx context.Context, patientID string, limit int) ([]emr.Record, error) {
	const q = `
SELECT id, patient_id, author_id, category, title, body, created_at, updated_at
FROM clinical_records
WHERE patient_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: list records: %w", err)
	}
	defer rows.Close()

	out := make([]emr.Record, 0, limit)
	for rows.Next() {
		var rec emr.Record
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.AuthorID, &rec.Category,
			&rec.Title, &rec.Body, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list records: %w", err)
	}
	return out, nil
}

// UpdateRecord rewrites the mutable fields and the audit row atomically.
func (s *Store) UpdateRecord(ctx context.Context, rec *emr.Record, a *audit.Record) error {
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		const q = `
UPDATE clinical_records
SET category = $3, title = $4, body = $5, updated_at = $6
WHERE id = $1 AND patient_id = $2 AND deleted_at IS NULL`
		res, err := tx.ExecContext(ctx, q,
			rec.ID, rec.PatientID, rec.Category, rec.Title, rec.Body, rec.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("pg: update record: %w", err)
		}
		return requireRow(res, "pg: update record")
	})
}

// DeleteRecord tombstones a record. The row and its content survive for the
// retention window; reads stop returning it.
func (s *Store) DeleteRecord(ctx context.Context, patientID, recordID string, deletedAt time.Time, a *audit.Record) error {
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		const q = `
UPDATE clinical_records SET deleted_at = $3
WHERE id = $1 AND patient_id = $2 AND deleted_at IS NULL`
		res, err := tx.ExecContext(ctx, q, recordID, patientID, deletedAt.UTC())
		if err != nil {
			return fmt.Errorf("pg: delete record: %w", err)
		}
		return requireRow(res, "pg: delete record")
	})
}

// CreateDocument inserts the metadata row and audit row in one transaction.
func (s *Store) CreateDocument(ctx context.Context, doc *emr.Document, a *audit.Record) error {
	return s.inTx(ctx, a, func(tx *sql.Tx) error {
		const q = `
INSERT INTO documents (id, patient_id, file_name, content_type, size, object_key, uploaded_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err := tx.ExecContext(ctx, q,
			doc.ID, doc.PatientID, doc.FileName, doc.ContentType,
			doc.Size, doc.ObjectKey, doc.UploadedBy, doc.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("pg: insert document: %w", err)
		}
		return nil
	})
}

// GetDocument loads one live document scoped to its patient.
func (s *Store) GetDocument(ctx context.Context, patientID, documentID string) (emr.Document, error) {
	const q = `
SELECT id, patient_id, file_name, content_type, size, object_key, uploaded_by, created_at
FROM documents
WHERE id = $1 AND patient_id = $2 AND deleted_at IS NULL`
	var doc emr.Document
	err := s.db.QueryRowContext(ctx, q, documentID, patientID).Scan(
		&doc.ID, &doc.PatientID, &doc.FileName, &doc.ContentType,
		&doc.Size, &doc.ObjectKey, &doc.UploadedBy, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return emr.Document{}, emr.ErrNotFound
	}
	if err != nil {
		return emr.Document{}, fmt.Errorf("pg: get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns live documents for a patient, newest first.
func (s *Store) ListDocuments(ctx context.Context, patientID string, limit int) ([]emr.Document, error) {
	const q = `
SELECT id, patient_id, file_name, content_type, size, object_key, uploaded_by, created_at
FROM documents
WHERE patient_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: list documents: %w", err)
	}
	defer rows.Close()

	out := make([]emr.Document, 0, limit)
	for rows.Next() {
		var doc emr.Document
		if err := rows.Scan(&doc.ID, &doc.PatientID, &doc.FileName, &doc.ContentType,
			&doc.Size, &doc.ObjectKey, &doc.UploadedBy, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list documents: %w", err)
	}
	return out, nil
}

// inTx runs fn and appends the audit record in one transaction, so the
// mutation and its trail commit or roll back together.
func (s *Store) inTx(ctx context.Context, a *audit.Record, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if a != nil {
		if err := appendAudit(ctx, tx, a); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pg: commit tx: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return emr.ErrNotFound
	}
	return nil
}
