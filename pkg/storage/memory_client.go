package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryClient is an in-process S3Client used for local runs and tests.
type MemoryClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: make(map[string][]byte)}
}

func objectPath(bucket, key string) string {
	return bucket + "/" + key
}

func (c *MemoryClient) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read body for %s: %w", key, err)
	}
	c.mu.Lock()
	c.objects[objectPath(bucket, key)] = data
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	data, ok := c.objects[objectPath(bucket, key)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *MemoryClient) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.objects, objectPath(bucket, key))
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) GetPresignedURL(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	u := url.URL{Scheme: "memory", Host: bucket, Path: "/" + key}
	q := u.Query()
	q.Set("expires", time.Now().Add(expiration).UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exists reports whether the object is stored.
func (c *MemoryClient) Exists(bucket, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.objects[objectPath(bucket, key)]
	return ok
}

// Len returns the number of stored objects.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}
