package audit

import (
	"context"
	"sync"
)

// Tracker carries the in-flight audit record for one request. Store
// operations that persist the record inside their own transaction mark it
// committed so the gateway does not write it a second time.
type Tracker struct {
	mu        sync.Mutex
	rec       *Record
	committed bool
}

// NewTracker wraps rec for the lifetime of one request.
func NewTracker(rec *Record) *Tracker {
	return &Tracker{rec: rec}
}

// Pending returns the record if it still needs to be persisted, nil once a
// store transaction has taken ownership of it.
func (t *Tracker) Pending() *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return nil
	}
	return t.rec
}

// Record returns the underlying record for annotation.
func (t *Tracker) Record() *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec
}

// MarkCommitted notes that the record was durably written together with the
// business mutation.
func (t *Tracker) MarkCommitted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = true
}

// Committed reports whether the record is already durable.
func (t *Tracker) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

type trackerContextKey struct{}

// ContextWithTracker stores the tracker on the context.
func ContextWithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerContextKey{}, t)
}

// TrackerFromContext retrieves the tracker placed by the gateway.
func TrackerFromContext(ctx context.Context) (*Tracker, bool) {
	t, ok := ctx.Value(trackerContextKey{}).(*Tracker)
	return t, ok
}
