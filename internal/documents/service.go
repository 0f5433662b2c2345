package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"docseal/portal/portal-backend/pkg/qr"
)

type Service interface {
	UploadDocument(ctx context.Context, req UploadRequest) (*DocumentView, error)
	GetDocument(ctx context.Context, ownerID, id uuid.UUID) (*DocumentView, error)
	ListDocuments(ctx context.Context, ownerID uuid.UUID) ([]DocumentView, error)
	DeleteDocument(ctx context.Context, ownerID, id uuid.UUID) error

	SignDocument(ctx context.Context, ownerID, id uuid.UUID, material SignatureMaterial) (*BatchSuccess, error)
	GetQRCode(ctx context.Context, ownerID, id uuid.UUID) (*qr.Payload, []byte, error)
	UpdateRetention(ctx context.Context, ownerID, id uuid.UUID, expiresAt *time.Time) (*DocumentView, error)

	SignedDownloadURL(ctx context.Context, id uuid.UUID) (string, error)
}

type ServiceOptions struct {
	MaxUploadBytes   int64
	DefaultRetention time.Duration
}

type documentService struct {
	repo     Repository
	storage  *StorageProvider
	signer   *SignatureService
	workflow *WorkflowService
	encoder  *qr.Encoder
	links    Links
	opts     ServiceOptions
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	storage *StorageProvider,
	signer *SignatureService,
	workflow *WorkflowService,
	encoder *qr.Encoder,
	links Links,
	opts ServiceOptions,
	logger *zap.Logger,
) Service {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	return &documentService{
		repo:     repo,
		storage:  storage,
		signer:   signer,
		workflow: workflow,
		encoder:  encoder,
		links:    links,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *documentService) validateUpload(req UploadRequest, now time.Time) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.OwnerID, validation.By(func(value interface{}) error {
			if id, _ := value.(uuid.UUID); id == uuid.Nil {
				return errors.New("cannot be blank")
			}
			return nil
		})),
		validation.Field(&req.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&req.Content, validation.Required, validation.By(func(value interface{}) error {
			b, _ := value.([]byte)
			if int64(len(b)) > s.opts.MaxUploadBytes {
				return fmt.Errorf("must not exceed %d bytes", s.opts.MaxUploadBytes)
			}
			if !strings.HasPrefix(string(b[:min(len(b), 5)]), "%PDF-") {
				return errors.New("must be a PDF document")
			}
			return nil
		})),
		validation.Field(&req.ExpiresAt, validation.By(func(value interface{}) error {
			t, _ := value.(*time.Time)
			if t != nil && !t.After(now) {
				return errors.New("must be in the future")
			}
			return nil
		})),
	)
}

func (s *documentService) UploadDocument(ctx context.Context, req UploadRequest) (*DocumentView, error) {
	now := s.now()
	if err := s.validateUpload(req, now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil && s.opts.DefaultRetention > 0 {
		t := now.Add(s.opts.DefaultRetention)
		expiresAt = &t
	}
	if expiresAt != nil {
		t := expiresAt.UTC()
		expiresAt = &t
	}

	docID := uuid.New()
	if _, err := s.storage.PutArtifact(ctx, docID, ArtifactOriginal, req.Content); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:            docID,
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		FileSize:      int64(len(req.Content)),
		StoragePrefix: StoragePrefix(docID),
		Metadata:      req.Metadata,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	if err := s.repo.CreatePending(ctx, doc); err != nil {
		if delErr := s.storage.DeleteArtifacts(ctx, docID, []string{ArtifactOriginal}); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("document_id", docID.String()), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("document uploaded",
		zap.String("document_id", docID.String()),
		zap.String("owner_id", req.OwnerID.String()),
		zap.Int64("file_size", doc.FileSize))

	view := s.workflow.Present(doc, now, s.links)
	return &view, nil
}

func (s *documentService) owned(ctx context.Context, ownerID, id uuid.UUID) (*Document, error) {
	doc, err := s.repo.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return doc, nil
}

func (s *documentService) GetDocument(ctx context.Context, ownerID, id uuid.UUID) (*DocumentView, error) {
	doc, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	view := s.workflow.Present(doc, s.now(), s.links)
	return &view, nil
}

func (s *documentService) ListDocuments(ctx context.Context, ownerID uuid.UUID) ([]DocumentView, error) {
	docs, err := s.repo.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]DocumentView, 0, len(docs))
	for i := range docs {
		views = append(views, s.workflow.Present(&docs[i], now, s.links))
	}
	return views, nil
}

func (s *documentService) DeleteDocument(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.storage.DeleteArtifacts(ctx, id, AllArtifacts); err != nil {
		s.logger.Warn("failed to delete artifacts", zap.String("document_id", id.String()), zap.Error(err))
	}
	return s.repo.DeleteRecord(ctx, id)
}

func (s *documentService) SignDocument(ctx context.Context, ownerID, id uuid.UUID, material SignatureMaterial) (*BatchSuccess, error) {
	sig, err := s.signer.Prepare(material)
	if err != nil {
		return nil, err
	}
	return s.signer.Sign(ctx, ownerID, id, sig)
}

func (s *documentService) GetQRCode(ctx context.Context, ownerID, id uuid.UUID) (*qr.Payload, []byte, error) {
	doc, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	if doc.Hash == nil {
		return nil, nil, fmt.Errorf("%w: document is not signed", ErrInvalidInput)
	}
	return s.encoder.Encode(id.String(), s.links.ValidationURL(id), *doc.Hash, doc.IsProtected())
}

func (s *documentService) UpdateRetention(ctx context.Context, ownerID, id uuid.UUID, expiresAt *time.Time) (*DocumentView, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateExpiry(ctx, id, expiresAt); err != nil {
		return nil, err
	}
	doc, err := s.repo.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.workflow.Present(doc, s.now(), s.links)
	return &view, nil
}

func (s *documentService) SignedDownloadURL(ctx context.Context, id uuid.UUID) (string, error) {
	doc, err := s.repo.GetDocumentByID(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.Status != StatusSigned || doc.IsExpired(s.now()) {
		return "", ErrNotFound
	}
	return s.storage.PresignArtifact(ctx, id, ArtifactSigned)
}
