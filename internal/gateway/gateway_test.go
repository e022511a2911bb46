package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/alerts"
	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
)

const testSecret = "gateway-test-secret"

type memRecorder struct {
	mu       sync.Mutex
	records  []audit.Record
	failures int
}

func (r *memRecorder) Record(_ context.Context, rec *audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return audit.ErrWriteFailed
	}
	r.records = append(r.records, *rec)
	return nil
}

func (r *memRecorder) all() []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Record, len(r.records))
	copy(out, r.records)
	return out
}

type memLinks struct {
	links map[string]bool
	err   error
}

func (l *memLinks) HasActiveLink(_ context.Context, principalID, patientID string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return l.links[principalID+"/"+patientID], nil
}

type spyAlerts struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (s *spyAlerts) Publish(_ context.Context, ev alerts.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *spyAlerts) Close() error { return nil }

func (s *spyAlerts) all() []alerts.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alerts.Event, len(s.events))
	copy(out, s.events)
	return out
}

type harness struct {
	router   *chi.Mux
	recorder *memRecorder
	alerts   *spyAlerts
	issuer   *auth.TokenIssuer
	handled  int
}

func newHarness(t *testing.T, links *memLinks, recorder *memRecorder) *harness {
	t.Helper()
	if links == nil {
		links = &memLinks{links: map[string]bool{}}
	}
	if recorder == nil {
		recorder = &memRecorder{}
	}
	h := &harness{
		recorder: recorder,
		alerts:   &spyAlerts{},
		issuer:   auth.NewTokenIssuer([]byte(testSecret), "emr-test", time.Hour),
	}

	resolver := auth.NewResolver([]byte(testSecret), "emr-test", nil, auth.WithMode(auth.ModeStateless))
	gw := New(resolver, auth.NewPatientAuthorizer(links), recorder, h.alerts, zap.NewNop())

	ok := func(w http.ResponseWriter, r *http.Request) {
		h.handled++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"payload":"clinical-content"}`))
	}

	r := chi.NewRouter()
	r.Route("/v1/patients/{patientID}/records", func(r chi.Router) {
		r.With(gw.Require(auth.ScopeRecordsRead)).Get("/", ok)
		r.With(gw.Require(auth.ScopeRecordsWrite)).Post("/", func(w http.ResponseWriter, r *http.Request) {
			h.handled++
			if tr, ok := audit.TrackerFromContext(r.Context()); ok {
				tr.Record().StatusCode = http.StatusCreated
				tr.MarkCommitted()
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"r1"}`))
		})
		r.With(gw.Require(auth.ScopeRecordsDelete)).Delete("/{recordID}", func(w http.ResponseWriter, r *http.Request) {
			h.handled++
			w.WriteHeader(http.StatusNoContent)
		})
	})
	r.With(gw.Require(auth.ScopeRecordsRead)).Get("/v1/patients/{patientID}/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	h.router = r
	return h
}

func (h *harness) token(t *testing.T, ident auth.Identity) string {
	t.Helper()
	token, _, err := h.issuer.Issue(ident)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (h *harness) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func nurse() auth.Identity     { return auth.Identity{ID: "n1", Role: auth.RoleNurse} }
func clinician() auth.Identity { return auth.Identity{ID: "c1", Role: auth.RoleClinician} }

func TestMissingCredential(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.do(http.MethodGet, "/v1/patients/p1/records/", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("401 must carry WWW-Authenticate")
	}
	if h.handled != 0 {
		t.Fatal("handler must not run without a credential")
	}
	recs := h.recorder.all()
	if len(recs) != 1 {
		t.Fatalf("want exactly 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Action != audit.ActionAccessDenied || rec.StatusCode != 401 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Details["reason"] != "malformed_credential" {
		t.Fatalf("unexpected reason %q", rec.Details["reason"])
	}
	if rec.PatientID != "p1" || rec.ClientIP != "10.1.2.3" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestExpiredToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	expired := auth.NewTokenIssuer([]byte(testSecret), "emr-test", -time.Minute)
	token, _, err := expired.Issue(nurse())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := h.do(http.MethodGet, "/v1/patients/p1/records/", token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", w.Code)
	}
	recs := h.recorder.all()
	if len(recs) != 1 || recs[0].Details["reason"] != "expired" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestTamperedToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	forged := auth.NewTokenIssuer([]byte("wrong-secret-entirely"), "emr-test", time.Hour)
	token, _, err := forged.Issue(nurse())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := h.do(http.MethodGet, "/v1/patients/p1/records/", token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", w.Code)
	}
	if h.handled != 0 {
		t.Fatal("handler must not run on a forged token")
	}
}

func TestInsufficientScope(t *testing.T) {
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	h := newHarness(t, links, nil)
	token := h.token(t, nurse())

	w := h.do(http.MethodDelete, "/v1/patients/p1/records/r1", token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", w.Code)
	}
	if h.handled != 0 {
		t.Fatal("handler must not run without the scope")
	}
	recs := h.recorder.all()
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	if recs[0].Details["reason"] != "insufficient_scope" ||
		recs[0].Details["missing_scope"] != auth.ScopeRecordsDelete {
		t.Fatalf("unexpected details %+v", recs[0].Details)
	}
}

func TestNoPatientRelationship(t *testing.T) {
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	h := newHarness(t, links, nil)
	token := h.token(t, nurse())

	w := h.do(http.MethodGet, "/v1/patients/p2/records/", token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "relationship") {
		t.Fatal("response must not reveal the denial cause")
	}
	recs := h.recorder.all()
	if len(recs) != 1 || recs[0].Details["reason"] != "no_patient_relationship" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

// Scope and relationship denials must be indistinguishable on the wire.
func TestDenialBodiesUniform(t *testing.T) {
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	h := newHarness(t, links, nil)
	token := h.token(t, nurse())

	scopeDenial := h.do(http.MethodDelete, "/v1/patients/p1/records/r1", token)
	relDenial := h.do(http.MethodGet, "/v1/patients/p2/records/", token)
	if scopeDenial.Code != relDenial.Code || scopeDenial.Body.String() != relDenial.Body.String() {
		t.Fatalf("denial responses differ: %d %q vs %d %q",
			scopeDenial.Code, scopeDenial.Body.String(), relDenial.Code, relDenial.Body.String())
	}
}

// An authorization store outage denies like any other failed check:
// 403, nothing about backend state on the wire.
func TestRelationshipStoreDownFailsClosed(t *testing.T) {
	h := newHarness(t, &memLinks{err: errors.New("db down")}, nil)
	token := h.token(t, nurse())

	w := h.do(http.MethodGet, "/v1/patients/p1/records/", token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "unavailable") {
		t.Fatal("response must not reveal the outage")
	}
	if h.handled != 0 {
		t.Fatal("handler must not run when authorization cannot be decided")
	}
	recs := h.recorder.all()
	if len(recs) != 1 || recs[0].Details["reason"] != "store_unavailable" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

type failingRevocations struct{}

func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingRevocations) Revoke(context.Context, string, time.Duration) error {
	return errors.New("redis down")
}

// An outage on the revocation check during resolution also denies with
// a generic status, never a 5xx that maps out the backend.
func TestRevocationStoreDownFailsClosed(t *testing.T) {
	recorder := &memRecorder{}
	resolver := auth.NewResolver([]byte(testSecret), "emr-test", nil,
		auth.WithMode(auth.ModeStateless),
		auth.WithRevocations(failingRevocations{}))
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	gw := New(resolver, auth.NewPatientAuthorizer(links), recorder, &spyAlerts{}, zap.NewNop())

	r := chi.NewRouter()
	r.With(gw.Require(auth.ScopeRecordsRead)).Get("/v1/patients/{patientID}/records", func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})

	issuer := auth.NewTokenIssuer([]byte(testSecret), "emr-test", time.Hour)
	token, _, err := issuer.Issue(nurse())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/patients/p1/records", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d", w.Code)
	}
	recs := recorder.all()
	if len(recs) != 1 || recs[0].Details["reason"] != "store_unavailable" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

// A store-down denial and an ordinary relationship denial must be
// indistinguishable on the wire.
func TestStoreDownDenialMatchesRelationshipDenial(t *testing.T) {
	token := newHarness(t, nil, nil).token(t, nurse())

	down := newHarness(t, &memLinks{err: errors.New("db down")}, nil)
	noLink := newHarness(t, &memLinks{links: map[string]bool{}}, nil)

	a := down.do(http.MethodGet, "/v1/patients/p1/records/", token)
	b := noLink.do(http.MethodGet, "/v1/patients/p1/records/", token)
	if a.Code != b.Code || a.Body.String() != b.Body.String() {
		t.Fatalf("store-down denial differs: %d %q vs %d %q",
			a.Code, a.Body.String(), b.Code, b.Body.String())
	}
}

func TestAllowedReadAudited(t *testing.T) {
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	h := newHarness(t, links, nil)
	token := h.token(t, nurse())

	w := h.do(http.MethodGet, "/v1/patients/p1/records/", token)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	if h.handled != 1 {
		t.Fatalf("want handler invoked once, got %d", h.handled)
	}
	recs := h.recorder.all()
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Action != audit.ActionRead || rec.StatusCode != 200 ||
		rec.PrincipalID != "n1" || rec.PatientID != "p1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestExactlyOneRecordPerRequest(t *testing.T) {
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	h := newHarness(t, links, nil)
	token := h.token(t, nurse())

	requests := 0
	for i := 0; i < 3; i++ {
		h.do(http.MethodGet, "/v1/patients/p1/records/", token)
		requests++
		h.do(http.MethodGet, "/v1/patients/p2/records/", token)
		requests++
		h.do(http.MethodGet, "/v1/patients/p1/records/", "")
		requests++
	}
	if got := len(h.recorder.all()); got != requests {
		t.Fatalf("want %d records for %d requests, got %d", requests, requests, got)
	}
}

func TestCommittedMutationNotDoubleRecorded(t *testing.T) {
	links := &memLinks{links: map[string]bool{"c1/p1": true}}
	h := newHarness(t, links, nil)
	token := h.token(t, clinician())

	w := h.do(http.MethodPost, "/v1/patients/p1/records/", token)
	if w.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d", w.Code)
	}
	// The handler committed the record with its transaction, so the
	// gateway must write nothing.
	if got := len(h.recorder.all()); got != 0 {
		t.Fatalf("want 0 gateway-written records, got %d", got)
	}
}

func TestAuditFailureWithholdsResponse(t *testing.T) {
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	recorder := &memRecorder{failures: 100}
	h := newHarness(t, links, recorder)
	token := h.token(t, nurse())

	w := h.do(http.MethodGet, "/v1/patients/p1/records/", token)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("want 500 when the trail cannot be written, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "clinical-content") {
		t.Fatal("handler payload must not leak when audit fails")
	}
	events := h.alerts.all()
	if len(events) != 1 || events[0].Kind != "audit_write_failure" {
		t.Fatalf("expected audit failure alert, got %+v", events)
	}
}

func TestUnauditedDenialRaisesAlert(t *testing.T) {
	recorder := &memRecorder{failures: 100}
	h := newHarness(t, &memLinks{links: map[string]bool{}}, recorder)
	token := h.token(t, nurse())

	w := h.do(http.MethodGet, "/v1/patients/p1/records/", token)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("want 500 when the denial cannot be audited, got %d", w.Code)
	}
	events := h.alerts.all()
	if len(events) != 1 || events[0].Kind != "audit_write_failure" {
		t.Fatalf("expected audit failure alert, got %+v", events)
	}
	if events[0].Severity != alerts.SeverityCritical {
		t.Fatalf("expected critical severity, got %q", events[0].Severity)
	}
}

func TestBreakGlass(t *testing.T) {
	h := newHarness(t, &memLinks{links: map[string]bool{}}, nil)
	token := h.token(t, auth.Identity{ID: "a1", Role: auth.RoleAdmin})

	w := h.do(http.MethodGet, "/v1/patients/p7/records/", token)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	recs := h.recorder.all()
	if len(recs) != 1 || recs[0].Action != audit.ActionBreakGlass {
		t.Fatalf("unexpected records %+v", recs)
	}
	events := h.alerts.all()
	if len(events) != 1 || events[0].Kind != "break_glass" {
		t.Fatalf("expected break glass alert, got %+v", events)
	}
	if events[0].Fields["patient_id"] != "p7" {
		t.Fatalf("alert missing patient reference: %+v", events[0])
	}
}

func TestPatientOwnChartOnly(t *testing.T) {
	h := newHarness(t, nil, nil)
	token := h.token(t, auth.Identity{ID: "u9", Role: auth.RolePatient, PatientID: "p1"})

	if w := h.do(http.MethodGet, "/v1/patients/p1/records/", token); w.Code != http.StatusOK {
		t.Fatalf("own chart: want 200, got %d", w.Code)
	}
	if w := h.do(http.MethodGet, "/v1/patients/p2/records/", token); w.Code != http.StatusForbidden {
		t.Fatalf("other chart: want 403, got %d", w.Code)
	}
}

func TestPanicIsAuditedAs500(t *testing.T) {
	links := &memLinks{links: map[string]bool{"n1/p1": true}}
	h := newHarness(t, links, nil)
	token := h.token(t, nurse())

	w := h.do(http.MethodGet, "/v1/patients/p1/panic", token)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", w.Code)
	}
	recs := h.recorder.all()
	if len(recs) != 1 || recs[0].StatusCode != 500 {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestDeniedResponseIsJSON(t *testing.T) {
	h := newHarness(t, nil, nil)
	w := h.do(http.MethodGet, "/v1/patients/p1/records/", "")
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("denial body not JSON: %v", err)
	}
	if body["error"] != "unauthorized" {
		t.Fatalf("unexpected body %+v", body)
	}
}
