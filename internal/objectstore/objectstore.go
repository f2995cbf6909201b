// Package objectstore abstracts the bucket that holds uploaded statements
// and extraction outputs. GCS and S3 implementations are provided; both
// issue time-limited upload URLs so file bytes never pass through the API
// server.
package objectstore

import (
	"context"
	"time"
)

// UploadTarget is a presigned location a client can PUT file bytes to.
type UploadTarget struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Store is the object storage interface used by the intake flow.
type Store interface {
	// PresignUpload returns a target for uploading an object at key.
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (UploadTarget, error)
	// Get reads an object in full.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes an object. Implementations write create-only where the
	// backend supports it, so re-delivered pipeline events are idempotent.
	Put(ctx context.Context, key, contentType string, data []byte) error
	Close() error
}
