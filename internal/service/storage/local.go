package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
)

// ArtifactsPrefix is the URL path the HTTP server serves a LocalStore under.
const ArtifactsPrefix = "/artifacts/"

// LocalStore keeps artifacts in a directory served by the API itself.
type LocalStore struct {
	dir     string
	baseURL string
	logger  *logger.Logger
}

func NewLocalStore(dir, baseURL string, log *logger.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: baseURL, logger: log}, nil
}

func (s *LocalStore) Name() string { return config.StorageLocal }

// Dir is the root directory holding the artifacts.
func (s *LocalStore) Dir() string { return s.dir }

// Put writes to a temporary file and renames it into place, so readers never see a partial artifact.
func (s *LocalStore) Put(ctx context.Context, key, _ string, r io.Reader) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return "", fmt.Errorf("failed to set permissions on %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", key, err)
	}

	s.logger.Debug("Stored artifact %s", key)
	return joinURL(s.baseURL, ArtifactsPrefix[1:]+key), nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.dir, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.dir, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Close() error { return nil }
