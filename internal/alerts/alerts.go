// Package alerts publishes security-relevant events (break-glass access,
// audit write failures) to operators.
package alerts

import (
	"context"
	"time"
)

// Severity orders events for routing.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one alert. Fields carry identifiers only.
type Event struct {
	Severity   Severity          `json:"severity"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	RequestID  string            `json:"request_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher fans events out. Publish must not block request handling for
// long and its failure must never fail the request that raised the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
