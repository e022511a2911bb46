package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
	"github.com/Generatorcc/emr-ehr-core/internal/emr"
)

type recordRequest struct {
	Category string `json:"category" validate:"required"`
	Title    string `json:"title" validate:"required,max=300"`
	Body     string `json:"body" validate:"max=65536"`
}

func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := a.records.ListRecords(r.Context(), patientID, limit)
	if err != nil {
		a.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := a.records.GetRecord(r.Context(), chi.URLParam(r, "patientID"), chi.URLParam(r, "recordID"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	if t, ok := audit.TrackerFromContext(r.Context()); ok {
		t.Record().ResourceType = "clinical_record"
		t.Record().ResourceID = rec.ID
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := auth.PrincipalFromContext(ctx)

	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	arec := a.pendingAudit(ctx, http.StatusCreated)
	rec, err := a.records.CreateRecord(ctx, emr.CreateRecordInput{
		PatientID: chi.URLParam(r, "patientID"),
		AuthorID:  p.ID,
		Category:  req.Category,
		Title:     req.Title,
		Body:      req.Body,
	}, arec)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.markCommitted(ctx)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	arec := a.pendingAudit(ctx, http.StatusOK)
	rec, err := a.records.UpdateRecord(ctx,
		chi.URLParam(r, "patientID"), chi.URLParam(r, "recordID"),
		emr.UpdateRecordInput{Category: req.Category, Title: req.Title, Body: req.Body}, arec)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.markCommitted(ctx)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	arec := a.pendingAudit(ctx, http.StatusNoContent)
	err := a.records.DeleteRecord(ctx, chi.URLParam(r, "patientID"), chi.URLParam(r, "recordID"), arec)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.markCommitted(ctx)
	w.WriteHeader(http.StatusNoContent)
}

// pendingAudit returns the request's audit record primed with the status a
// successful mutation will answer with, so the row committed alongside the
// mutation reflects the final outcome.
func (a *API) pendingAudit(ctx context.Context, successStatus int) *audit.Record {
	t, ok := audit.TrackerFromContext(ctx)
	if !ok {
		// Unreachable behind the gateway; a detached record keeps the
		// store contract satisfied.
		return &audit.Record{StatusCode: successStatus, OccurredAt: a.now().UTC()}
	}
	rec := t.Record()
	rec.StatusCode = successStatus
	return rec
}

func (a *API) markCommitted(ctx context.Context) {
	if t, ok := audit.TrackerFromContext(ctx); ok {
		t.MarkCommitted()
	}
}

func (a *API) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, emr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, emr.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid request")
	default:
		a.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
