package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"docseal/portal/portal-backend/pkg/storage"
)

// StorageProvider keeps document artifacts under documents/<id>/ in one bucket.
type StorageProvider struct {
	s3         storage.S3Client
	bucket     string
	presignTTL time.Duration
}

func NewStorageProvider(s3 storage.S3Client, bucket string, presignTTL time.Duration) *StorageProvider {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &StorageProvider{
		s3:         s3,
		bucket:     bucket,
		presignTTL: presignTTL,
	}
}

func StoragePrefix(id uuid.UUID) string {
	return fmt.Sprintf("documents/%s/", id)
}

func (p *StorageProvider) ArtifactKey(id uuid.UUID, name string) string {
	return StoragePrefix(id) + name
}

func (p *StorageProvider) PutArtifact(ctx context.Context, id uuid.UUID, name string, body []byte) (string, error) {
	key := p.ArtifactKey(id, name)
	if err := p.s3.Upload(ctx, p.bucket, key, bytes.NewReader(body)); err != nil {
		return "", storageErr("put "+key, err)
	}
	return key, nil
}

func (p *StorageProvider) GetArtifact(ctx context.Context, id uuid.UUID, name string) ([]byte, error) {
	key := p.ArtifactKey(id, name)
	rc, err := p.s3.Download(ctx, p.bucket, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: artifact %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, storageErr("get "+key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, storageErr("read "+key, err)
	}
	return data, nil
}

func (p *StorageProvider) PresignArtifact(ctx context.Context, id uuid.UUID, name string) (string, error) {
	key := p.ArtifactKey(id, name)
	url, err := p.s3.GetPresignedURL(ctx, p.bucket, key, p.presignTTL)
	if err != nil {
		return "", storageErr("presign "+key, err)
	}
	return url, nil
}

// DeleteArtifacts attempts every name and reports the ones that failed.
// Objects that are already gone count as deleted.
func (p *StorageProvider) DeleteArtifacts(ctx context.Context, id uuid.UUID, names []string) error {
	failed := map[string]error{}
	for _, name := range names {
		key := p.ArtifactKey(id, name)
		err := p.s3.Delete(ctx, p.bucket, key)
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			failed[key] = err
		}
	}
	if len(failed) > 0 {
		return &PartialFailureError{Failed: failed}
	}
	return nil
}
