package documents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	CreatePending(ctx context.Context, doc *Document) error
	ClaimForSigning(ctx context.Context, id, claim uuid.UUID, now time.Time, ttl time.Duration) error
	ReleaseClaim(ctx context.Context, id, claim uuid.UUID) error
	AttachSignedArtifact(ctx context.Context, id uuid.UUID, artifact SignedArtifact) (*Document, error)
	GetDocumentByID(ctx context.Context, id uuid.UUID) (*Document, error)
	ListDocuments(ctx context.Context, ownerID uuid.UUID) ([]Document, error)
	ListExpired(ctx context.Context, now time.Time) ([]Document, error)
	UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

const expiredPredicate = "expires_at IS NOT NULL AND expires_at < ?"

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Migrate creates or updates the documents table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Document{})
}

func (r *gormRepository) CreatePending(ctx context.Context, doc *Document) error {
	doc.Status = StatusPending
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return storageErr("create document", err)
	}
	return nil
}

// ClaimForSigning takes the exclusive right to write a pending document's
// signed artifacts. A claim older than ttl may be taken over.
func (r *gormRepository) ClaimForSigning(ctx context.Context, id, claim uuid.UUID, now time.Time, ttl time.Duration) error {
	res := r.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Where("signing_claim IS NULL OR claimed_at < ?", now.Add(-ttl).UTC()).
		Updates(map[string]any{
			"signing_claim": claim,
			"claimed_at":    now.UTC(),
		})
	if res.Error != nil {
		return storageErr("claim document", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.conflict(r.db.WithContext(ctx), id, "claim document")
	}
	return nil
}

// ReleaseClaim drops claim if it is still held on a pending record.
func (r *gormRepository) ReleaseClaim(ctx context.Context, id, claim uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ? AND signing_claim = ?", id, StatusPending, claim).
		Updates(map[string]any{
			"signing_claim": nil,
			"claimed_at":    nil,
		}).Error
	if err != nil {
		return storageErr("release claim", err)
	}
	return nil
}

// AttachSignedArtifact flips a pending record to signed. The hash and the
// artifact location are written by the same conditional update, so a record
// is never observed signed without its fingerprint. Only the holder of the
// signing claim can attach.
func (r *gormRepository) AttachSignedArtifact(ctx context.Context, id uuid.UUID, artifact SignedArtifact) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Document{}).
			Where("id = ? AND status = ? AND signing_claim = ?", id, StatusPending, artifact.Claim).
			Updates(map[string]any{
				"status":           StatusSigned,
				"hash":             artifact.Hash,
				"signed_key":       artifact.SignedKey,
				"signed_pdf_url":   artifact.SignedPDFURL,
				"signer_name":      artifact.SignerName,
				"access_code_hash": artifact.AccessCodeHash,
				"signed_at":        artifact.SignedAt.UTC(),
				"signing_claim":    nil,
				"claimed_at":       nil,
			})
		if res.Error != nil {
			return storageErr("attach signed artifact", res.Error)
		}
		if res.RowsAffected == 0 {
			return r.conflict(tx, id, "attach signed artifact")
		}
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			return storageErr("reload document", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// conflict explains why a conditional update on a pending record matched nothing.
func (r *gormRepository) conflict(db *gorm.DB, id uuid.UUID, op string) error {
	var doc Document
	err := db.Select("id", "status").First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr(op, err)
	}
	if doc.Status != StatusPending {
		return ErrAlreadySigned
	}
	return ErrSigningInProgress
}

func (r *gormRepository) GetDocumentByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get document", err)
	}
	return &doc, nil
}

func (r *gormRepository) ListDocuments(ctx context.Context, ownerID uuid.UUID) ([]Document, error) {
	var docs []Document
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, storageErr("list documents", err)
	}
	return docs, nil
}

func (r *gormRepository) ListExpired(ctx context.Context, now time.Time) ([]Document, error) {
	var docs []Document
	err := r.db.WithContext(ctx).
		Where(expiredPredicate, now.UTC()).
		Order("expires_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, storageErr("list expired", err)
	}
	return docs, nil
}

func (r *gormRepository) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	var value any
	if expiresAt != nil {
		value = expiresAt.UTC()
	}
	res := r.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Update("expires_at", value)
	if res.Error != nil {
		return storageErr("update expiry", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepository) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Document{})
	if res.Error != nil {
		return storageErr("delete document", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes every record whose horizon is before cutoff at the
// time the statement runs, which may differ from an earlier ListExpired, and
// returns the ids it removed.
func (r *gormRepository) DeleteExpired(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var deleted []Document
	res := r.db.WithContext(ctx).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where(expiredPredicate, cutoff.UTC()).
		Delete(&deleted)
	if res.Error != nil {
		return nil, storageErr("delete expired", res.Error)
	}
	ids := make([]uuid.UUID, 0, len(deleted))
	for _, doc := range deleted {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}
