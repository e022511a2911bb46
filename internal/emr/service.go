package emr

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Generatorcc/emr-ehr-core/internal/audit"
	"github.com/Generatorcc/emr-ehr-core/internal/ids"
)

// Store persists records and document metadata. Mutating methods receive the
// request's pending audit record and must write it in the same transaction
// as the mutation, then report success; partial outcomes are impossible.
type Store interface {
	CreateRecord(ctx context.Context, rec *Record, a *audit.Record) error
	GetRecord(ctx context.Context, patientID, recordID string) (Record, error)
	ListRecords(ctx context.Context, patientID string, limit int) ([]Record, error)
	UpdateRecord(ctx context.Context, rec *Record, a *audit.Record) error
	DeleteRecord(ctx context.Context, patientID, recordID string, deletedAt time.Time, a *audit.Record) error

	CreateDocument(ctx context.Context, doc *Document, a *audit.Record) error
	GetDocument(ctx context.Context, patientID, documentID string) (Document, error)
	ListDocuments(ctx context.Context, patientID string, limit int) ([]Document, error)
}

// ObjectStore holds document bytes.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (PresignedURL, error)
	Remove(ctx context.Context, key string) error
}

// Service applies domain rules over the stores.
type Service struct {
	store      Store
	objects    ObjectStore
	presignTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService builds the domain service. objects may be nil when document
// storage is not configured; document operations then fail cleanly.
func NewService(store Store, objects ObjectStore, presignTTL time.Duration, log *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		objects:    objects,
		presignTTL: presignTTL,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRecordInput is the write shape for new records.
type CreateRecordInput struct {
	PatientID string
	AuthorID  string
	Category  string
	Title     string
	Body      string
}

func (s *Service) CreateRecord(ctx context.Context, in CreateRecordInput, a *audit.Record) (Record, error) {
	if in.PatientID == "" || in.AuthorID == "" {
		return Record{}, fmt.Errorf("%w: missing patient or author", ErrInvalidInput)
	}
	if !validCategory(in.Category) {
		return Record{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if strings.TrimSpace(in.Title) == "" {
		return Record{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	now := s.now().UTC()
	rec := Record{
		ID:        ids.New(),
		PatientID: in.PatientID,
		AuthorID:  in.AuthorID,
		Category:  in.Category,
		Title:     in.Title,
		Body:      in.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.ResourceType = "clinical_record"
	a.ResourceID = rec.ID
	if err := s.store.CreateRecord(ctx, &rec, a); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, patientID, recordID string) (Record, error) {
	return s.store.GetRecord(ctx, patientID, recordID)
}

func (s *Service) ListRecords(ctx context.Context, patientID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListRecords(ctx, patientID, limit)
}

// UpdateRecordInput carries the mutable fields of a record.
type UpdateRecordInput struct {
	Category string
	Title    string
	Body     string
}

func (s *Service) UpdateRecord(ctx context.Context, patientID, recordID string, in UpdateRecordInput, a *audit.Record) (Record, error) {
	if !validCategory(in.Category) {
		return Record{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if strings.TrimSpace(in.Title) == "" {
		return Record{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	rec, err := s.store.GetRecord(ctx, patientID, recordID)
	if err != nil {
		return Record{}, err
	}
	rec.Category = in.Category
	rec.Title = in.Title
	rec.Body = in.Body
	rec.UpdatedAt = s.now().UTC()
	a.ResourceType = "clinical_record"
	a.ResourceID = rec.ID
	if err := s.store.UpdateRecord(ctx, &rec, a); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) DeleteRecord(ctx context.Context, patientID, recordID string, a *audit.Record) error {
	a.ResourceType = "clinical_record"
	a.ResourceID = recordID
	return s.store.DeleteRecord(ctx, patientID, recordID, s.now().UTC(), a)
}

// UploadDocumentInput describes one incoming file.
type UploadDocumentInput struct {
	PatientID   string
	UploadedBy  string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadDocument stores the bytes first, then the metadata row together with
// the audit record. If the metadata transaction fails the orphaned object is
// removed best-effort so storage cannot hold files the database denies exist.
func (s *Service) UploadDocument(ctx context.Context, in UploadDocumentInput, a *audit.Record) (Document, error) {
	if s.objects == nil {
		return Document{}, fmt.Errorf("%w: document storage not configured", ErrInvalidInput)
	}
	if in.PatientID == "" || in.UploadedBy == "" {
		return Document{}, fmt.Errorf("%w: missing patient or uploader", ErrInvalidInput)
	}
	name := sanitizeFileName(in.FileName)
	if name == "" {
		return Document{}, fmt.Errorf("%w: file name required", ErrInvalidInput)
	}
	if in.Size <= 0 {
		return Document{}, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := Document{
		ID:          ids.New(),
		PatientID:   in.PatientID,
		FileName:    name,
		ContentType: contentType,
		Size:        in.Size,
		UploadedBy:  in.UploadedBy,
		CreatedAt:   s.now().UTC(),
	}
	doc.ObjectKey = path.Join(doc.PatientID, doc.ID, doc.FileName)

	if err := s.objects.Put(ctx, doc.ObjectKey, in.Body, in.Size, contentType); err != nil {
		return Document{}, fmt.Errorf("emr: store document bytes: %w", err)
	}

	a.ResourceType = "document"
	a.ResourceID = doc.ID
	if err := s.store.CreateDocument(ctx, &doc, a); err != nil {
		if rmErr := s.objects.Remove(context.WithoutCancel(ctx), doc.ObjectKey); rmErr != nil {
			s.log.Error("orphaned document object left in storage",
				zap.String("object_key", doc.ObjectKey),
				zap.Error(rmErr))
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, patientID, documentID string) (Document, error) {
	return s.store.GetDocument(ctx, patientID, documentID)
}

func (s *Service) ListDocuments(ctx context.Context, patientID string, limit int) ([]Document, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListDocuments(ctx, patientID, limit)
}

// DocumentURL returns a time-limited download link for a stored document.
func (s *Service) DocumentURL(ctx context.Context, patientID, documentID string) (PresignedURL, error) {
	if s.objects == nil {
		return PresignedURL{}, fmt.Errorf("%w: document storage not configured", ErrInvalidInput)
	}
	doc, err := s.store.GetDocument(ctx, patientID, documentID)
	if err != nil {
		return PresignedURL{}, err
	}
	return s.objects.Presign(ctx, doc.ObjectKey, s.presignTTL)
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
