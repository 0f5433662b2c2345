package documents

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DocumentStatus string

// Only pending and signed are persisted. Invalid and expired are derived
// when a document is presented or validated.
const (
	StatusPending DocumentStatus = "pending"
	StatusSigned  DocumentStatus = "signed"
	StatusInvalid DocumentStatus = "invalid"
	StatusExpired DocumentStatus = "expired"
)

// Artifact names under a document's storage prefix.
const (
	ArtifactOriginal  = "original.pdf"
	ArtifactSigned    = "signed.pdf"
	ArtifactQR        = "qr.png"
	ArtifactSignature = "signature"
)

// AllArtifacts is the fixed set removed when a document is purged.
var AllArtifacts = []string{ArtifactOriginal, ArtifactSigned, ArtifactQR, ArtifactSignature}

type Document struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID        uuid.UUID      `json:"owner_id" gorm:"type:uuid;not null;index"`
	Name           string         `json:"name" gorm:"not null"`
	FileSize       int64          `json:"file_size"`
	Status         DocumentStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	Hash           *string        `json:"hash,omitempty" gorm:"type:varchar(64)"`
	StoragePrefix  string         `json:"storage_prefix" gorm:"not null"`
	SignedKey      *string        `json:"-"`
	SignedPDFURL   *string        `json:"signed_pdf_url,omitempty" gorm:"column:signed_pdf_url"`
	SignerName     string         `json:"signer_name,omitempty"`
	AccessCodeHash *string        `json:"-"`
	SigningClaim   *uuid.UUID     `json:"-" gorm:"type:uuid"`
	ClaimedAt      *time.Time     `json:"-"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	SignedAt       *time.Time     `json:"signed_at,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty" gorm:"index"`
}

func (Document) TableName() string {
	return "documents"
}

// IsExpired reports whether the retention horizon has passed at now.
func (d *Document) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && d.ExpiresAt.Before(now)
}

// IsProtected reports whether public validation requires an access code.
func (d *Document) IsProtected() bool {
	return d.AccessCodeHash != nil && *d.AccessCodeHash != ""
}

// EffectiveStatus is the status shown to callers at now.
func (d *Document) EffectiveStatus(now time.Time) DocumentStatus {
	if d.IsExpired(now) {
		return StatusExpired
	}
	return d.Status
}

// SignedArtifact is written onto a pending record in one conditional update.
// Claim must be the signing claim currently held on the record.
type SignedArtifact struct {
	Claim          uuid.UUID
	Hash           string
	SignedKey      string
	SignedPDFURL   string
	SignerName     string
	AccessCodeHash *string
	SignedAt       time.Time
}

// SignatureMaterial is the visual signature shared by every item of a request.
type SignatureMaterial struct {
	SignerName     string `json:"signer_name"`
	SignatureImage string `json:"signature_image"` // base64 PNG
	AccessCode     string `json:"access_code,omitempty"`
}

type UploadRequest struct {
	OwnerID   uuid.UUID
	Name      string
	Content   []byte
	ExpiresAt *time.Time
	Metadata  datatypes.JSON
}

type RetentionRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

type BatchSignRequest struct {
	BatchID     string      `json:"batch_id,omitempty"`
	DocumentIDs []uuid.UUID `json:"document_ids"`
	SignatureMaterial
}

type BatchSuccess struct {
	DocumentID    uuid.UUID `json:"document_id"`
	SignedPDFURL  string    `json:"signed_pdf_url"`
	ValidationURL string    `json:"validation_url"`
	Hash          string    `json:"hash"`
}

type BatchFailure struct {
	DocumentID uuid.UUID `json:"document_id"`
	Error      string    `json:"error"`
}

type BatchSignResult struct {
	BatchID    string         `json:"batch_id"`
	Success    bool           `json:"success"`
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Successes  []BatchSuccess `json:"successes"`
	Failures   []BatchFailure `json:"failures"`
}

type VerificationStatus string

const (
	VerificationValid    VerificationStatus = "valid"
	VerificationTampered VerificationStatus = "tampered"
	VerificationUnsigned VerificationStatus = "unsigned"
	VerificationExpired  VerificationStatus = "expired"
)

type VerificationMode string

const (
	ModeMetadata      VerificationMode = "metadata"
	ModeCryptographic VerificationMode = "cryptographic"
)

type VerificationResult struct {
	DocumentID     uuid.UUID          `json:"document_id"`
	Status         VerificationStatus `json:"status"`
	Mode           VerificationMode   `json:"mode"`
	DocumentStatus DocumentStatus     `json:"document_status"`
	Name           string             `json:"name"`
	SignerName     string             `json:"signer_name,omitempty"`
	Hash           string             `json:"hash,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	SignedAt       *time.Time         `json:"signed_at,omitempty"`
	SignedPDFURL   *string            `json:"signed_pdf_url,omitempty"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	Protected      bool               `json:"protected"`
	CheckedAt      time.Time          `json:"checked_at"`
}

type QRCode struct {
	Payload     any    `json:"payload"`
	ImageBase64 string `json:"image_base64"`
}
