// Package objstore defines the object store contract used by studiovault
// and provides S3 and local filesystem implementations behind a client
// that tracks store health and falls back to local storage when degraded.
package objstore

import (
	"context"
	"errors"
	"time"
)

// Store is the contract every object store implementation satisfies.
// Keys are slash-separated and never start with "/".
type Store interface {
	// Put writes body under key and returns the key written.
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error)

	// Get returns the full object. ErrNotFound if absent.
	Get(ctx context.Context, key string) (*Object, error)

	// Delete removes key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error

	// Head reports whether key exists.
	Head(ctx context.Context, key string) (bool, error)

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectSummary, error)

	// Presign returns a time-limited URL for reading key.
	Presign(ctx context.Context, key string, ttl time.Duration, opts PresignOptions) (string, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string
}

// Prober is implemented by stores that can verify connectivity.
type Prober interface {
	Probe(ctx context.Context) error
}

// Object is a fetched object with its attributes.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
	// NonDurable is set when the object was served by the local fallback.
	NonDurable bool
}

// ObjectSummary is one entry of a prefix listing.
type ObjectSummary struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// PresignOptions control presigned URL generation.
type PresignOptions struct {
	Download bool   // force attachment disposition
	Filename string // suggested download name
}

// Metadata keys attached to every asset object.
const (
	MetaOriginalFilename = "original-filename"
	MetaTenantID         = "tenant-id"
	MetaSessionID        = "session-id"
	MetaCategory         = "category"
	MetaUploadedAt       = "uploaded-at"
)

// Error taxonomy. Implementations wrap these so callers can use errors.Is.
var (
	ErrNotFound       = errors.New("object not found")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrUnavailable    = errors.New("object store unavailable")
	ErrTransient      = errors.New("transient object store error")
	ErrAccessDenied   = errors.New("object store access denied")
	ErrInvalidKey     = errors.New("invalid object key")
)
