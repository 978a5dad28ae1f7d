package storage

import (
	"context"
	"io"
)

// Storage is the object store behind export artifacts. Upload returns the
// public URL of the stored object.
type Storage interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}
