package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docseal/portal/portal-backend/pkg/security"
)

// ValidationService answers public verification requests. It never writes.
type ValidationService struct {
	repo          Repository
	fingerprinter security.Fingerprinter
	logger        *zap.Logger
	now           func() time.Time
}

func NewValidationService(repo Repository, fingerprinter security.Fingerprinter, logger *zap.Logger) *ValidationService {
	return &ValidationService{
		repo:          repo,
		fingerprinter: fingerprinter,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks a document by id. A nil candidate checks the record only;
// otherwise the candidate bytes are compared against the stored fingerprint.
func (s *ValidationService) Validate(ctx context.Context, id uuid.UUID, candidate []byte) (*VerificationResult, error) {
	doc, err := s.repo.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.evaluate(doc, candidate), nil
}

// ValidateWithAccess is Validate for callers that may hold an access code.
func (s *ValidationService) ValidateWithAccess(ctx context.Context, id uuid.UUID, accessCode string, candidate []byte) (*VerificationResult, error) {
	doc, err := s.repo.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.IsProtected() && !security.CompareAccessCode(*doc.AccessCodeHash, accessCode) {
		return nil, ErrAccessCodeRequired
	}
	return s.evaluate(doc, candidate), nil
}

func (s *ValidationService) evaluate(doc *Document, candidate []byte) *VerificationResult {
	now := s.now()
	res := &VerificationResult{
		DocumentID:     doc.ID,
		Mode:           ModeMetadata,
		DocumentStatus: doc.Status,
		Name:           doc.Name,
		SignerName:     doc.SignerName,
		CreatedAt:      doc.CreatedAt,
		SignedAt:       doc.SignedAt,
		ExpiresAt:      doc.ExpiresAt,
		Protected:      doc.IsProtected(),
		CheckedAt:      now,
	}
	if candidate != nil {
		res.Mode = ModeCryptographic
	}

	switch {
	case doc.Hash == nil || *doc.Hash == "":
		res.Status = VerificationUnsigned
		return res
	case doc.IsExpired(now):
		res.Status = VerificationExpired
		res.DocumentStatus = StatusExpired
		return res
	}

	res.Hash = *doc.Hash
	res.SignedPDFURL = doc.SignedPDFURL

	if candidate != nil && !s.fingerprinter.Matches(security.Hash(*doc.Hash), candidate) {
		res.Status = VerificationTampered
		res.DocumentStatus = StatusInvalid
		s.logger.Info("validation mismatch", zap.String("document_id", doc.ID.String()))
		return res
	}

	res.Status = VerificationValid
	return res
}
