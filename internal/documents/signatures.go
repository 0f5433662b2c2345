package documents

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"docseal/portal/portal-backend/pkg/events"
	"docseal/portal/portal-backend/pkg/pdf"
	"docseal/portal/portal-backend/pkg/qr"
	"docseal/portal/portal-backend/pkg/security"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

// DefaultSigningClaimTTL is how long a signing attempt holds a document
// before another attempt may take it over.
const DefaultSigningClaimTTL = 10 * time.Minute

// Links builds the public URLs embedded in signed documents.
type Links struct {
	// ValidationBaseURL is the public verification page, e.g. https://app/validate.
	ValidationBaseURL string
	// APIBaseURL is the externally reachable address of this API.
	APIBaseURL string
}

func (l Links) ValidationURL(id uuid.UUID) string {
	return strings.TrimRight(l.ValidationBaseURL, "/") + "/" + id.String()
}

func (l Links) SignedPDFURL(id uuid.UUID) string {
	return fmt.Sprintf("%s/api/v1/public/documents/%s/signed.pdf", strings.TrimRight(l.APIBaseURL, "/"), id)
}

func (m SignatureMaterial) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.SignerName, validation.Required, validation.Length(1, 200)),
		validation.Field(&m.SignatureImage, validation.Required, validation.By(isPNGBase64)),
		validation.Field(&m.AccessCode, validation.Length(4, 128)),
	)
}

func isPNGBase64(value interface{}) error {
	s, _ := value.(string)
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return errors.New("must be base64 encoded")
	}
	if len(img) < len(pngHeader) || string(img[:len(pngHeader)]) != string(pngHeader) {
		return errors.New("must be a PNG image")
	}
	return nil
}

// preparedSignature is signature material decoded once per request.
type preparedSignature struct {
	signerName     string
	image          []byte
	accessCodeHash *string
}

// SignatureService stamps, fingerprints and records a single document.
type SignatureService struct {
	repo          Repository
	storage       *StorageProvider
	stamper       pdf.Stamper
	fingerprinter security.Fingerprinter
	encoder       *qr.Encoder
	workflow      *WorkflowService
	links         Links
	events        events.Publisher
	logger        *zap.Logger
	now           func() time.Time
	claimTTL      time.Duration
}

func NewSignatureService(
	repo Repository,
	storage *StorageProvider,
	stamper pdf.Stamper,
	fingerprinter security.Fingerprinter,
	encoder *qr.Encoder,
	workflow *WorkflowService,
	links Links,
	publisher events.Publisher,
	logger *zap.Logger,
) *SignatureService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &SignatureService{
		repo:          repo,
		storage:       storage,
		stamper:       stamper,
		fingerprinter: fingerprinter,
		encoder:       encoder,
		workflow:      workflow,
		links:         links,
		events:        publisher,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		claimTTL:      DefaultSigningClaimTTL,
	}
}

func (s *SignatureService) Prepare(m SignatureMaterial) (*preparedSignature, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	img, _ := base64.StdEncoding.DecodeString(m.SignatureImage)

	prepared := &preparedSignature{
		signerName: strings.TrimSpace(m.SignerName),
		image:      img,
	}
	if m.AccessCode != "" {
		hashed, err := security.HashAccessCode(m.AccessCode)
		if err != nil {
			return nil, fmt.Errorf("access code: %w", err)
		}
		prepared.accessCodeHash = &hashed
	}
	return prepared, nil
}

// Sign runs the full signing routine for one document owned by ownerID.
func (s *SignatureService) Sign(ctx context.Context, ownerID, id uuid.UUID, sig *preparedSignature) (*BatchSuccess, error) {
	doc, err := s.repo.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	now := s.now()
	if err := s.workflow.CanSign(doc, now); err != nil {
		return nil, err
	}

	claim := uuid.New()
	if err := s.repo.ClaimForSigning(ctx, id, claim, now, s.claimTTL); err != nil {
		return nil, err
	}

	// Artifact writes must be over long before the claim can be taken over.
	attemptCtx, cancel := context.WithTimeout(ctx, s.claimTTL/2)
	defer cancel()

	res, err := s.signClaimed(attemptCtx, ownerID, id, claim, sig, now)
	if err != nil {
		if relErr := s.repo.ReleaseClaim(context.WithoutCancel(ctx), id, claim); relErr != nil {
			s.logger.Warn("failed to release signing claim", zap.String("document_id", id.String()), zap.Error(relErr))
		}
		return nil, err
	}
	return res, nil
}

// signClaimed writes the signed artifacts of a document whose claim is held.
func (s *SignatureService) signClaimed(ctx context.Context, ownerID, id, claim uuid.UUID, sig *preparedSignature, now time.Time) (*BatchSuccess, error) {
	original, err := s.storage.GetArtifact(ctx, id, ArtifactOriginal)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}

	validationURL := s.links.ValidationURL(id)
	protected := sig.accessCodeHash != nil

	// The stamped QR cannot carry the hash of the document it is printed on.
	_, stampQR, err := s.encoder.Encode(id.String(), validationURL, "", protected)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	stamped, err := s.stamper.Stamp(ctx, original, pdf.Stamp{
		SignerName:     sig.signerName,
		SignatureImage: sig.image,
		QRImage:        stampQR,
		ValidationURL:  validationURL,
		SignedAt:       now,
	})
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidDocument) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("stamp document: %w", err)
	}

	hash, err := s.fingerprinter.Fingerprint(stamped)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	signedKey, err := s.storage.PutArtifact(ctx, id, ArtifactSigned, stamped)
	if err != nil {
		return nil, err
	}
	if _, err := s.storage.PutArtifact(ctx, id, ArtifactSignature, sig.image); err != nil {
		return nil, err
	}
	_, qrPNG, err := s.encoder.Encode(id.String(), validationURL, hash.String(), protected)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	if _, err := s.storage.PutArtifact(ctx, id, ArtifactQR, qrPNG); err != nil {
		return nil, err
	}

	signedURL := s.links.SignedPDFURL(id)
	if _, err := s.repo.AttachSignedArtifact(ctx, id, SignedArtifact{
		Claim:          claim,
		Hash:           hash.String(),
		SignedKey:      signedKey,
		SignedPDFURL:   signedURL,
		SignerName:     sig.signerName,
		AccessCodeHash: sig.accessCodeHash,
		SignedAt:       now,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("document signed",
		zap.String("document_id", id.String()),
		zap.String("hash", hash.String()),
	)
	if err := s.events.Publish(ctx, events.Event{
		Type:       events.TypeDocumentSigned,
		Subject:    id.String(),
		Data:       map[string]any{"owner_id": ownerID.String(), "hash": hash.String()},
		OccurredAt: now,
	}); err != nil {
		s.logger.Warn("failed to publish event", zap.String("document_id", id.String()), zap.Error(err))
	}

	return &BatchSuccess{
		DocumentID:    id,
		SignedPDFURL:  signedURL,
		ValidationURL: validationURL,
		Hash:          hash.String(),
	}, nil
}
