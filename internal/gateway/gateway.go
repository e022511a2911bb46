// Package gateway is the access chokepoint for patient data. Every guarded
// route passes through it: it resolves the caller's identity, checks scopes
// and patient relationships, and guarantees exactly one audit record per
// request. Responses are buffered so nothing of a mutation's outcome reaches
// the caller until its audit record is durable.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/alerts"
	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
	"github.com/Generatorcc/emr-ehr-core/internal/ids"
	"github.com/Generatorcc/emr-ehr-core/internal/obs"
)

// Gateway wires the authorizers, the audit recorder and the alert channel.
type Gateway struct {
	resolver *auth.Resolver
	patients *auth.PatientAuthorizer
	recorder audit.Recorder
	alerts   alerts.Publisher
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New builds a gateway. alertsPub may be alerts.Noop{}.
func New(resolver *auth.Resolver, patients *auth.PatientAuthorizer, recorder audit.Recorder, alertsPub alerts.Publisher, log *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		resolver: resolver,
		patients: patients,
		recorder: recorder,
		alerts:   alertsPub,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Require guards a route with the given scopes. Routes with a {patientID}
// URL parameter additionally get the patient-relationship check.
func (g *Gateway) Require(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, scopes, next)
		})
	}
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, scopes []string, next http.Handler) {
	ctx := r.Context()
	patientID := chi.URLParam(r, "patientID")

	rec := &audit.Record{
		ID:         ids.New(),
		Action:     actionForMethod(r.Method),
		PatientID:  patientID,
		ClientIP:   clientIP(r),
		RequestID:  obs.RequestIDFromContext(ctx),
		OccurredAt: g.now().UTC(),
	}

	token, ok := bearerToken(r)
	if !ok {
		g.deny(ctx, w, rec, auth.ErrMalformedCredential)
		return
	}

	p, err := g.resolver.Resolve(ctx, token)
	if err != nil {
		g.deny(ctx, w, rec, err)
		return
	}
	rec.PrincipalID = p.ID

	if d := auth.AuthorizeScopes(p, scopes); !d.Allowed {
		rec.SetDetail("missing_scope", d.MissingScope)
		g.deny(ctx, w, rec, auth.ErrInsufficientScope)
		return
	}

	if patientID != "" {
		d := g.patients.Authorize(ctx, p, patientID)
		if !d.Allowed {
			g.deny(ctx, w, rec, errorForReason(d.Reason))
			return
		}
		if d.BreakGlass {
			rec.Action = audit.ActionBreakGlass
			rec.SetDetail("method", r.Method)
			g.alert(ctx, alerts.Event{
				Severity:  alerts.SeverityWarning,
				Kind:      "break_glass",
				Message:   "administrative access to patient data without care relationship",
				RequestID: rec.RequestID,
				Fields: map[string]string{
					"principal_id": p.ID,
					"patient_id":   patientID,
				},
			})
		}
	}

	obs.ObserveAuthzDecision(true, "")

	tracker := audit.NewTracker(rec)
	ctx = auth.ContextWithPrincipal(ctx, p)
	ctx = audit.ContextWithTracker(ctx, tracker)

	bw := newBufferedWriter(w)
	func() {
		defer func() {
			if v := recover(); v != nil {
				g.log.Error("handler panic",
					zap.Any("panic", v),
					zap.String("request_id", rec.RequestID))
				bw.reset()
				bw.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(bw, r.WithContext(ctx))
	}()

	rec.StatusCode = bw.statusOr(rec.StatusCode)

	if !tracker.Committed() {
		if err := g.recorder.Record(ctx, rec); err != nil {
			g.alert(ctx, alerts.Event{
				Severity:  alerts.SeverityCritical,
				Kind:      "audit_write_failure",
				Message:   "request outcome could not be audited",
				RequestID: rec.RequestID,
				Fields:    map[string]string{"principal_id": p.ID},
			})
			// The buffered response is discarded: no access result
			// leaves the gateway without its audit record.
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	bw.flush()
}

// deny persists the denial and answers with the generic 401/403 split.
// A store outage during an authorization read is still a 403: the caller
// learns nothing about backend state, only that access was not granted.
// If even the denial cannot be audited the request fails entirely.
func (g *Gateway) deny(ctx context.Context, w http.ResponseWriter, rec *audit.Record, cause error) {
	reason := auth.ReasonForError(cause)
	obs.ObserveAuthzDecision(false, string(reason))

	status := http.StatusForbidden
	message := "forbidden"
	if auth.IsIdentityFailure(cause) {
		status = http.StatusUnauthorized
		message = "unauthorized"
	}

	rec.Action = audit.ActionAccessDenied
	rec.StatusCode = status
	rec.SetDetail("reason", string(reason))

	if err := g.recorder.Record(ctx, rec); err != nil {
		g.alert(ctx, alerts.Event{
			Severity:  alerts.SeverityCritical,
			Kind:      "audit_write_failure",
			Message:   "denial could not be audited",
			RequestID: rec.RequestID,
			Fields:    map[string]string{"principal_id": rec.PrincipalID},
		})
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="emr"`)
	}
	writeError(w, status, message)
}

func (g *Gateway) alert(ctx context.Context, ev alerts.Event) {
	ev.OccurredAt = g.now().UTC()
	if err := g.alerts.Publish(ctx, ev); err != nil {
		g.log.Error("alert publish failed",
			zap.String("kind", ev.Kind),
			zap.Error(err))
	}
}

func errorForReason(reason auth.DenialReason) error {
	if reason == auth.ReasonStoreUnavailable {
		return auth.ErrStoreUnavailable
	}
	return auth.ErrNoPatientRelationship
}

func actionForMethod(method string) audit.Action {
	switch method {
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdate
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return audit.ActionRead
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
