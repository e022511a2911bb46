// Package audit defines the immutable access trail. One record is written
// for every request that reaches identity resolution, whether it is allowed
// or denied. Records name resources by identifier only and never contain
// clinical values.
package audit

import (
	"context"
	"errors"
	"time"
)

// Action classifies what the request attempted.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionRead         Action = "READ"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionLoginSuccess Action = "LOGIN_SUCCESS"
	ActionLoginFailure Action = "LOGIN_FAILURE"
	ActionAccessDenied Action = "ACCESS_DENIED"
	ActionBreakGlass   Action = "BREAK_GLASS"
)

// Record is one row of the access trail.
type Record struct {
	ID           string            `json:"id"`
	PrincipalID  string            `json:"principal_id,omitempty"`
	Action       Action            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	PatientID    string            `json:"patient_id,omitempty"`
	StatusCode   int               `json:"status_code"`
	ClientIP     string            `json:"client_ip,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// SetDetail records a key/value on the record, allocating lazily. Values
// must be identifiers or labels, never clinical content.
func (r *Record) SetDetail(key, value string) {
	if r.Details == nil {
		r.Details = make(map[string]string)
	}
	r.Details[key] = value
}

// ErrWriteFailed wraps any failure to persist a record after retries.
var ErrWriteFailed = errors.New("audit: write failed")

// Store persists records. Append must be idempotent on Record.ID so a
// retried write after an ambiguous failure cannot double-count.
type Store interface {
	Append(ctx context.Context, rec *Record) error
}

// Recorder is the write side used by the gateway and handlers.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// Filter selects records for the review endpoint.
type Filter struct {
	PrincipalID string
	PatientID   string
	Action      Action
	Since       time.Time
	Limit       int
}

// Reader serves the audit review endpoint.
type Reader interface {
	List(ctx context.Context, f Filter) ([]Record, error)
}
