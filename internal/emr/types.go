// Package emr holds the clinical-record and document domain: types,
// validation and the service orchestrating storage.
package emr

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("emr: not found")
	ErrInvalidInput = errors.New("emr: invalid input")
)

// Record categories accepted on write.
const (
	CategoryNote         = "note"
	CategoryDiagnosis    = "diagnosis"
	CategoryPrescription = "prescription"
	CategoryLabResult    = "lab_result"
	CategoryVitals       = "vitals"
)

// Record is one clinical entry in a patient chart. Deleted records keep
// their row with DeletedAt set; clinical data is tombstoned, never erased.
type Record struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	AuthorID  string     `json:"author_id"`
	Category  string     `json:"category"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Document is stored file metadata. The bytes live in object storage under
// ObjectKey; the database row is the source of truth for existence.
type Document struct {
	ID          string     `json:"id"`
	PatientID   string     `json:"patient_id"`
	FileName    string     `json:"file_name"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
	ObjectKey   string     `json:"-"`
	UploadedBy  string     `json:"uploaded_by"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// PresignedURL is a time-limited download grant.
type PresignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func validCategory(c string) bool {
	switch c {
	case CategoryNote, CategoryDiagnosis, CategoryPrescription, CategoryLabResult, CategoryVitals:
		return true
	}
	return false
}
