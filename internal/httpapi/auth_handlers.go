package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
	"github.com/Generatorcc/emr-ehr-core/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// handleLogin exchanges credentials for an access token. Every attempt is
// audited; every failure answers the same 401 so callers cannot probe which
// accounts exist.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec := &audit.Record{
		Action:       audit.ActionLoginFailure,
		ResourceType: "session",
		StatusCode:   http.StatusUnauthorized,
		ClientIP:     remoteIP(r),
		RequestID:    obs.RequestIDFromContext(ctx),
		OccurredAt:   a.now().UTC(),
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		rec.SetDetail("reason", "malformed_request")
		a.finishLogin(ctx, w, rec, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		rec.SetDetail("reason", "malformed_request")
		a.finishLogin(ctx, w, rec, http.StatusBadRequest, "invalid request", nil)
		return
	}

	ident, err := a.identities.FindIdentityByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, auth.ErrIdentityNotFound):
		rec.SetDetail("reason", "identity_not_found")
		a.finishLogin(ctx, w, rec, http.StatusUnauthorized, "invalid credentials", nil)
		return
	case err != nil:
		// Outage denies like a bad credential; the wire reveals nothing.
		a.log.Error("login identity lookup failed", zap.Error(err))
		rec.SetDetail("reason", "store_unavailable")
		a.finishLogin(ctx, w, rec, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	rec.PrincipalID = ident.ID

	if !auth.VerifyPassword(ident.PasswordHash, req.Password) {
		rec.SetDetail("reason", "bad_password")
		a.finishLogin(ctx, w, rec, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}
	if !ident.Active() {
		rec.SetDetail("reason", "inactive")
		a.finishLogin(ctx, w, rec, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	token, exp, err := a.issuer.Issue(ident)
	if err != nil {
		a.log.Error("token issue failed", zap.Error(err))
		rec.SetDetail("reason", "issue_failed")
		rec.StatusCode = http.StatusInternalServerError
		a.finishLogin(ctx, w, rec, http.StatusInternalServerError, "internal error", nil)
		return
	}

	rec.Action = audit.ActionLoginSuccess
	rec.StatusCode = http.StatusOK
	rec.Details = nil
	a.finishLogin(ctx, w, rec, http.StatusOK, "", &loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   exp,
	})
}

// finishLogin records the attempt then answers. If the audit write fails
// the login outcome is withheld and the caller gets a 500.
func (a *API) finishLogin(ctx context.Context, w http.ResponseWriter, rec *audit.Record, status int, errMsg string, ok *loginResponse) {
	if err := a.recorder.Record(ctx, rec); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ok != nil {
		writeJSON(w, status, ok)
		return
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="emr"`)
	}
	writeError(w, status, errMsg)
}

// handleLogout revokes the presented token for the rest of its lifetime.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if t, ok := audit.TrackerFromContext(ctx); ok {
		rec := t.Record()
		rec.ResourceType = "session"
		rec.SetDetail("event", "logout")
	}
	if a.revocations != nil && p.TokenID != "" {
		ttl := time.Until(p.ExpiresAt)
		if err := a.revocations.Revoke(ctx, p.TokenID, ttl); err != nil {
			a.log.Error("token revocation failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
