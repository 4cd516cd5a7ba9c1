package media

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("media object not found")

// ErrStoreUnavailable is returned when no store is configured.
var ErrStoreUnavailable = errors.New("media store not configured")

// Store abstracts object storage for message attachments.
type Store interface {
	// Put writes data under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given key; ErrNotFound when missing.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}

// SavedMedia describes a persisted attachment.
type SavedMedia struct {
	// Path is the storage key, namespaced by chat and media id.
	Path string `json:"path"`
	// URL is the stable internal retrieval URL served by the media proxy.
	URL string `json:"url"`
	// MimeType is the declared content type recorded at save time.
	MimeType string `json:"mime_type"`
}
