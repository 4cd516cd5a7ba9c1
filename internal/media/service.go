package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
)

// Service persists inbound attachments and serves them back to the
// dashboard through the media proxy.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a media service backed by the given store.
func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "media")),
	}
}

// SaveInbound stores an attachment fetched from the provider under a key
// namespaced by chat and media id and returns its retrieval metadata.
func (s *Service) SaveInbound(ctx context.Context, chatID, mediaID, mimeType string, data []byte) (SavedMedia, error) {
	if s.store == nil {
		return SavedMedia{}, ErrStoreUnavailable
	}
	chatID = strings.TrimSpace(chatID)
	mediaID = strings.TrimSpace(mediaID)
	if chatID == "" || mediaID == "" {
		return SavedMedia{}, fmt.Errorf("chat id and media id are required")
	}

	key := path.Join("chats", chatID, mediaID+extensionForMime(mimeType))
	if err := s.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return SavedMedia{}, fmt.Errorf("store media: %w", err)
	}
	return SavedMedia{
		Path:     key,
		URL:      "/media/" + key,
		MimeType: mimeType,
	}, nil
}

// Open returns a reader for a stored attachment by its storage key.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.store == nil {
		return nil, ErrStoreUnavailable
	}
	return s.store.Open(ctx, key)
}

func extensionForMime(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	// Strip parameters like "; codecs=opus" before lookup.
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "audio/ogg":
		return ".ogg"
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
