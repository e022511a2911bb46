// Package httpapi exposes the HTTP surface: authentication, guarded patient
// data routes, audit review and user administration.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
	"github.com/Generatorcc/emr-ehr-core/internal/emr"
	"github.com/Generatorcc/emr-ehr-core/internal/gateway"
	"github.com/Generatorcc/emr-ehr-core/internal/obs"
)

// IdentityDirectory is the user administration surface the API needs.
// Mutations take the request's pending audit record so store
// implementations can commit it with the change.
type IdentityDirectory interface {
	FindIdentityByEmail(ctx context.Context, email string) (auth.Identity, error)
	CreateIdentity(ctx context.Context, ident auth.Identity, createdAt time.Time, a *audit.Record) error
	DeactivateIdentity(ctx context.Context, id string, at time.Time, a *audit.Record) error
	GrantLink(ctx context.Context, principalID, patientID string, at time.Time, a *audit.Record) error
	RevokeLink(ctx context.Context, principalID, patientID string, at time.Time, a *audit.Record) error
}

// Deps wires the API's collaborators.
type Deps struct {
	Logger      *zap.Logger
	Gateway     *gateway.Gateway
	Records     *emr.Service
	Identities  IdentityDirectory
	Audits      audit.Reader
	Recorder    audit.Recorder
	Issuer      *auth.TokenIssuer
	Revocations auth.RevocationList

	Ready       func(ctx context.Context) error
	Version     string
	Environment string

	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// API is the assembled HTTP handler.
type API struct {
	mux         *chi.Mux
	gw          *gateway.Gateway
	records     *emr.Service
	identities  IdentityDirectory
	audits      audit.Reader
	recorder    audit.Recorder
	issuer      *auth.TokenIssuer
	revocations auth.RevocationList
	validate    *validator.Validate
	ready       func(ctx context.Context) error
	version     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

// New builds the router.
func New(d Deps) *API {
	a := &API{
		mux:         chi.NewRouter(),
		gw:          d.Gateway,
		records:     d.Records,
		identities:  d.Identities,
		audits:      d.Audits,
		recorder:    d.Recorder,
		issuer:      d.Issuer,
		revocations: d.Revocations,
		validate:    validator.New(),
		ready:       d.Ready,
		version:     d.Version,
		environment: d.Environment,
		log:         d.Logger,
		now:         time.Now,
	}

	r := a.mux
	r.Use(RequestID)
	r.Use(obs.Instrument)
	r.Use(Logging(d.Logger))
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(MaxBodyBytes(d.MaxBodyBytes))
	if d.RateLimitRPS > 0 {
		r.Use(RateLimit(d.RateLimitRPS, d.RateLimitBurst))
	}

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Get("/v1/info", a.handleInfo)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Post("/v1/auth/login", a.handleLogin)
	r.With(a.gw.Require()).Post("/v1/auth/logout", a.handleLogout)

	r.Route("/v1/patients/{patientID}", func(r chi.Router) {
		r.Route("/records", func(r chi.Router) {
			r.With(a.gw.Require(auth.ScopeRecordsRead)).Get("/", a.handleListRecords)
			r.With(a.gw.Require(auth.ScopeRecordsWrite)).Post("/", a.handleCreateRecord)
			r.Route("/{recordID}", func(r chi.Router) {
				r.With(a.gw.Require(auth.ScopeRecordsRead)).Get("/", a.handleGetRecord)
				r.With(a.gw.Require(auth.ScopeRecordsWrite)).Put("/", a.handleUpdateRecord)
				r.With(a.gw.Require(auth.ScopeRecordsDelete)).Delete("/", a.handleDeleteRecord)
			})
		})
		r.Route("/documents", func(r chi.Router) {
			r.With(a.gw.Require(auth.ScopeDocumentsRead)).Get("/", a.handleListDocuments)
			r.With(a.gw.Require(auth.ScopeDocumentsWrite)).Post("/", a.handleUploadDocument)
			r.Route("/{documentID}", func(r chi.Router) {
				r.With(a.gw.Require(auth.ScopeDocumentsRead)).Get("/", a.handleGetDocument)
				r.With(a.gw.Require(auth.ScopeDocumentsRead)).Get("/url", a.handleDocumentURL)
			})
		})
	})

	r.With(a.gw.Require(auth.ScopeAuditRead)).Get("/v1/audit", a.handleListAudit)

	r.Route("/v1/users", func(r chi.Router) {
		r.With(a.gw.Require(auth.ScopeUsersManage)).Post("/", a.handleCreateUser)
		r.With(a.gw.Require(auth.ScopeUsersManage)).Delete("/{userID}", a.handleDeactivateUser)
		r.With(a.gw.Require(auth.ScopeUsersManage)).Post("/{userID}/patients/{linkPatientID}", a.handleGrantLink)
		r.With(a.gw.Require(auth.ScopeUsersManage)).Delete("/{userID}/patients/{linkPatientID}", a.handleRevokeLink)
	})

	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        "emr-api",
		"version":     a.version,
		"environment": a.environment,
	})
}
