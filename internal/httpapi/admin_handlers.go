package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
	"github.com/Generatorcc/emr-ehr-core/internal/ids"
)

// handleListAudit serves the read-only audit review endpoint.
func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		PrincipalID: q.Get("principal_id"),
		PatientID:   q.Get("patient_id"),
		Action:      audit.Action(q.Get("action")),
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
		f.Since = t
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))

	recs, err := a.audits.List(r.Context(), f)
	if err != nil {
		a.log.Error("audit list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_records": recs})
}

type createUserRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=8"`
	Role      string   `json:"role" validate:"required"`
	Scopes    []string `json:"scopes,omitempty"`
	PatientID string   `json:"patient_id,omitempty"`
}

type userResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes,omitempty"`
	PatientID string   `json:"patient_id,omitempty"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	role := auth.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if role == auth.RolePatient && req.PatientID == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	ident := auth.Identity{
		ID:           ids.New(),
		Email:        req.Email,
		Role:         role,
		Scopes:       req.Scopes,
		PatientID:    req.PatientID,
		PasswordHash: hash,
	}

	arec := a.pendingAudit(ctx, http.StatusCreated)
	arec.ResourceType = "user"
	arec.ResourceID = ident.ID

	if err := a.identities.CreateIdentity(ctx, ident, a.now().UTC(), arec); err != nil {
		a.log.Error("create user failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.markCommitted(ctx)
	writeJSON(w, http.StatusCreated, userResponse{
		ID:        ident.ID,
		Email:     ident.Email,
		Role:      string(ident.Role),
		Scopes:    ident.Scopes,
		PatientID: ident.PatientID,
	})
}

// handleDeactivateUser tombstones a user. Tokens already issued stop working
// on their next request because identities are revalidated per request.
func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	arec := a.pendingAudit(ctx, http.StatusNoContent)
	arec.ResourceType = "user"
	arec.ResourceID = userID

	err := a.identities.DeactivateIdentity(ctx, userID, a.now().UTC(), arec)
	switch {
	case errors.Is(err, auth.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case err != nil:
		a.log.Error("deactivate user failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		a.markCommitted(ctx)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Link routes name the patient segment linkPatientID so the gateway treats
// them as administration, not patient-data access.
func (a *API) handleGrantLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	patientID := chi.URLParam(r, "linkPatientID")

	arec := a.pendingAudit(ctx, http.StatusNoContent)
	arec.ResourceType = "patient_link"
	arec.ResourceID = userID
	arec.PatientID = patientID

	if err := a.identities.GrantLink(ctx, userID, patientID, a.now().UTC(), arec); err != nil {
		a.log.Error("grant link failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.markCommitted(ctx)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	patientID := chi.URLParam(r, "linkPatientID")

	arec := a.pendingAudit(ctx, http.StatusNoContent)
	arec.ResourceType = "patient_link"
	arec.ResourceID = userID
	arec.PatientID = patientID

	if err := a.identities.RevokeLink(ctx, userID, patientID, a.now().UTC(), arec); err != nil {
		a.log.Error("revoke link failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.markCommitted(ctx)
	w.WriteHeader(http.StatusNoContent)
}
