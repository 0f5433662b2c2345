package documents

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSignedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.upload(t, "contract")
	signed := f.sign(t, id)
	original := f.signedBytes(t, id)

	res, err := f.validator.Validate(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, VerificationValid, res.Status)
	assert.Equal(t, ModeMetadata, res.Mode)
	assert.Equal(t, StatusSigned, res.DocumentStatus)
	assert.Equal(t, signed.Hash, res.Hash)
	require.NotNil(t, res.SignedPDFURL)
	assert.Equal(t, testLinks.SignedPDFURL(id), *res.SignedPDFURL)
	assert.False(t, res.Protected)

	res, err = f.validator.Validate(ctx, id, original)
	require.NoError(t, err)
	assert.Equal(t, VerificationValid, res.Status)
	assert.Equal(t, ModeCryptographic, res.Mode)

	tampered := append([]byte{}, original...)
	tampered[len(tampered)-2] ^= 0x01
	res, err = f.validator.Validate(ctx, id, tampered)
	require.NoError(t, err)
	assert.Equal(t, VerificationTampered, res.Status)
	assert.Equal(t, StatusInvalid, res.DocumentStatus)

	// Validation never rewrites the record.
	doc, err := f.repo.GetDocumentByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, doc.Status)
	assert.Equal(t, signed.Hash, *doc.Hash)

	f.expire(t, id, time.Hour)
	res, err = f.validator.Validate(ctx, id, original)
	require.NoError(t, err)
	assert.Equal(t, VerificationExpired, res.Status)
	assert.Equal(t, StatusExpired, res.DocumentStatus)
	assert.Nil(t, res.SignedPDFURL)
}

func TestValidateUnsignedAndMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.upload(t, "draft")
	res, err := f.validator.Validate(ctx, id, samplePDF("draft"))
	require.NoError(t, err)
	assert.Equal(t, VerificationUnsigned, res.Status)
	assert.Equal(t, StatusPending, res.DocumentStatus)
	assert.Empty(t, res.Hash)

	_, err = f.validator.Validate(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateProtectedDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.upload(t, "nda")
	m := material()
	m.AccessCode = "s3cret"
	_, err := f.service.SignDocument(ctx, f.owner, id, m)
	require.NoError(t, err)

	_, err = f.validator.ValidateWithAccess(ctx, id, "", nil)
	assert.ErrorIs(t, err, ErrAccessCodeRequired)

	_, err = f.validator.ValidateWithAccess(ctx, id, "wrong", nil)
	assert.ErrorIs(t, err, ErrAccessCodeRequired)

	res, err := f.validator.ValidateWithAccess(ctx, id, "s3cret", f.signedBytes(t, id))
	require.NoError(t, err)
	assert.Equal(t, VerificationValid, res.Status)
	assert.True(t, res.Protected)
}
