package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type flakyStore struct {
	failures int
	appends  []Record
	ctxErrs  []error
}

func (s *flakyStore) Append(ctx context.Context, rec *Record) error {
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	s.appends = append(s.appends, *rec)
	return nil
}

func newTestRecorder(store Store) *DurableRecorder {
	r := NewDurableRecorder(store, zap.NewNop())
	r.sleep = func(time.Duration) {}
	return r
}

func TestRecordAssignsIdentity(t *testing.T) {
	store := &flakyStore{}
	r := newTestRecorder(store)

	rec := &Record{Action: ActionRead, StatusCode: 200}
	if err := r.Record(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID == "" || rec.OccurredAt.IsZero() {
		t.Fatalf("expected ID and timestamp assigned, got %+v", rec)
	}
	if len(store.appends) != 1 {
		t.Fatalf("want 1 append, got %d", len(store.appends))
	}
}

func TestRecordRetriesOnce(t *testing.T) {
	store := &flakyStore{failures: 1}
	r := newTestRecorder(store)

	rec := &Record{ID: "fixed-id", Action: ActionCreate, StatusCode: 201}
	if err := r.Record(context.Background(), rec); err != nil {
		t.Fatalf("record after retry: %v", err)
	}
	if len(store.appends) != 1 || store.appends[0].ID != "fixed-id" {
		t.Fatalf("unexpected appends %+v", store.appends)
	}
}

func TestRecordFailsAfterRetry(t *testing.T) {
	store := &flakyStore{failures: 2}
	r := newTestRecorder(store)

	err := r.Record(context.Background(), &Record{Action: ActionDelete})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("want ErrWriteFailed, got %v", err)
	}
}

func TestRecordSurvivesCanceledRequest(t *testing.T) {
	store := &flakyStore{}
	r := newTestRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Record(ctx, &Record{Action: ActionRead}); err != nil {
		t.Fatalf("record on canceled context: %v", err)
	}
	if len(store.ctxErrs) != 1 || store.ctxErrs[0] != nil {
		t.Fatalf("store saw canceled context: %v", store.ctxErrs)
	}
}

func TestTracker(t *testing.T) {
	rec := &Record{Action: ActionUpdate}
	tr := NewTracker(rec)

	if tr.Committed() {
		t.Fatal("new tracker must not be committed")
	}
	if tr.Pending() != rec {
		t.Fatal("pending should return the record")
	}
	tr.MarkCommitted()
	if !tr.Committed() || tr.Pending() != nil {
		t.Fatal("committed tracker must report no pending record")
	}

	ctx := ContextWithTracker(context.Background(), tr)
	got, ok := TrackerFromContext(ctx)
	if !ok || got != tr {
		t.Fatal("tracker not round-tripped through context")
	}
	if _, ok := TrackerFromContext(context.Background()); ok {
		t.Fatal("empty context must not yield a tracker")
	}
}
