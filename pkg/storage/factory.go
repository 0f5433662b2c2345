package storage

import (
	"context"
	"fmt"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// New returns the client for the named driver.
func New(ctx context.Context, driver string, opts S3Options) (S3Client, error) {
	switch driver {
	case DriverS3, "":
		return NewS3Client(ctx, opts)
	case DriverMemory:
		return NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
