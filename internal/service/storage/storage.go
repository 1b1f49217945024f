// Package storage uploads pipeline artifacts and returns publicly resolvable URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
)

// Store persists artifacts under slash-separated keys such as "annotated_images/abc123.jpg".
type Store interface {
	Name() string
	// Put uploads the content and returns the URL it can be fetched from.
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// New creates the store selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageLocal:
		return NewLocalStore(cfg.Storage.Directory, cfg.Storage.PublicBaseURL, log)
	case config.StorageGCS:
		return NewGCSStore(ctx, cfg.Storage, cfg.GCPCredentialsFile, log)
	case config.StorageSFTP:
		return NewSFTPStore(cfg.Storage, log), nil
	case config.StorageFTP:
		return NewFTPStore(cfg.Storage, log), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}

// cleanKey rejects keys that are empty, absolute or escape the store root.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != key || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
