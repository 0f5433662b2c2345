package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()

	require.NoError(t, c.Upload(ctx, "docs", "documents/a/original.pdf", strings.NewReader("%PDF-1.4")))
	assert.True(t, c.Exists("docs", "documents/a/original.pdf"))

	rc, err := c.Download(ctx, "docs", "documents/a/original.pdf")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestMemoryClientDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	require.NoError(t, c.Upload(ctx, "docs", "k", strings.NewReader("x")))

	assert.NoError(t, c.Delete(ctx, "docs", "k"))
	assert.NoError(t, c.Delete(ctx, "docs", "k"))
	assert.Equal(t, 0, c.Len())

	_, err := c.Download(ctx, "docs", "k")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryClientPresignedURL(t *testing.T) {
	c := NewMemoryClient()
	u, err := c.GetPresignedURL(context.Background(), "docs", "documents/a/signed.pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "memory://docs/documents/a/signed.pdf?expires="))
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeForKey("documents/a/signed.pdf"))
	assert.Equal(t, "image/png", contentTypeForKey("documents/a/qr.png"))
	assert.Equal(t, "application/octet-stream", contentTypeForKey("documents/a/signature"))
}

func TestNewSelectsDriver(t *testing.T) {
	c, err := New(context.Background(), DriverMemory, S3Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryClient{}, c)

	_, err = New(context.Background(), "ipfs", S3Options{})
	assert.Error(t, err)
}
