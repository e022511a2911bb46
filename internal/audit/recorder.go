package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/ids"
	"github.com/Generatorcc/emr-ehr-core/internal/obs"
)

const (
	writeTimeout = 5 * time.Second
	retryDelay   = 100 * time.Millisecond
)

// DurableRecorder persists records through a Store with one retry. Writes
// are detached from the request's cancellation: a client hanging up must not
// lose the trail of what it accessed.
type DurableRecorder struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
	sleep func(time.Duration)
}

// NewDurableRecorder builds a recorder over store.
func NewDurableRecorder(store Store, log *zap.Logger) *DurableRecorder {
	return &DurableRecorder{
		store: store,
		log:   log,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Record assigns identity and timestamp if missing, then appends the record,
// retrying once. Failure after the retry returns ErrWriteFailed; callers
// must treat that as a request failure.
func (r *DurableRecorder) Record(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = r.now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err := r.store.Append(ctx, rec)
	if err != nil {
		r.log.Warn("audit write failed, retrying",
			zap.String("audit_id", rec.ID),
			zap.Error(err))
		r.sleep(retryDelay)
		// Append is idempotent on rec.ID, so retrying an ambiguous
		// first attempt cannot duplicate the row.
		err = r.store.Append(ctx, rec)
	}
	if err != nil {
		obs.ObserveAuditWrite(false)
		r.log.Error("audit write failed",
			zap.String("audit_id", rec.ID),
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	obs.ObserveAuditWrite(true)
	return nil
}
