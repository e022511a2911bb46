package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
)

// Append writes one audit row outside any business transaction. Used for
// reads, denials and login events.
func (s *Store) Append(ctx context.Context, rec *audit.Record) error {
	return appendAudit(ctx, s.db, rec)
}

// List returns audit rows matching f, newest first.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.PrincipalID != "" {
		where = append(where, "principal_id = "+arg(f.PrincipalID))
	}
	if f.PatientID != "" {
		where = append(where, "patient_id = "+arg(f.PatientID))
	}
	if f.Action != "" {
		where = append(where, "action = "+arg(string(f.Action)))
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(f.Since.UTC()))
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `
SELECT id, principal_id, action, resource_type, resource_id, patient_id, status_code, client_ip, request_id, details, occurred_at
FROM audit_log`
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY occurred_at DESC\nLIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list audit: %w", err)
	}
	defer rows.Close()

	out := make([]audit.Record, 0, limit)
	for rows.Next() {
		var (
			rec          audit.Record
			principalID  sql.NullString
			resourceType sql.NullString
			resourceID   sql.NullString
			patientID    sql.NullString
			clientIP     sql.NullString
			requestID    sql.NullString
			action       string
			details      []byte
		)
		if err := rows.Scan(&rec.ID, &principalID, &action, &resourceType, &resourceID,
			&patientID, &rec.StatusCode, &clientIP, &requestID, &details, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("pg: scan audit: %w", err)
		}
		rec.Action = audit.Action(action)
		rec.PrincipalID = principalID.String
		rec.ResourceType = resourceType.String
		rec.ResourceID = resourceID.String
		rec.PatientID = patientID.String
		rec.ClientIP = clientIP.String
		rec.RequestID = requestID.String
		if len(details) > 0 && string(details) != "{}" {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("pg: decode audit details: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list audit: %w", err)
	}
	return out, nil
}
