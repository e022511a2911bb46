package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/auth"
	"github.com/Generatorcc/emr-ehr-core/internal/emr"
)

func (a *API) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := a.records.ListDocuments(r.Context(), patientID, limit)
	if err != nil {
		a.domainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (a *API) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.records.GetDocument(r.Context(), chi.URLParam(r, "patientID"), chi.URLParam(r, "documentID"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	if t, ok := audit.TrackerFromContext(r.Context()); ok {
		t.Record().ResourceType = "document"
		t.Record().ResourceID = doc.ID
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleUploadDocument accepts one multipart file field named "file".
func (a *API) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, _ := auth.PrincipalFromContext(ctx)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	defer file.Close()

	arec := a.pendingAudit(ctx, http.StatusCreated)
	doc, err := a.records.UploadDocument(ctx, emr.UploadDocumentInput{
		PatientID:   chi.URLParam(r, "patientID"),
		UploadedBy:  p.ID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, arec)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.markCommitted(ctx)
	writeJSON(w, http.StatusCreated, doc)
}

// handleDocumentURL answers a short-lived download link. The bytes
// themselves are served by object storage, never proxied through the API.
func (a *API) handleDocumentURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := chi.URLParam(r, "documentID")
	u, err := a.records.DocumentURL(ctx, chi.URLParam(r, "patientID"), documentID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if t, ok := audit.TrackerFromContext(ctx); ok {
		t.Record().ResourceType = "document"
		t.Record().ResourceID = documentID
		t.Record().SetDetail("event", "download_url_issued")
	}
	writeJSON(w, http.StatusOK, u)
}
