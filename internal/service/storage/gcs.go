package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
)

// GCSStore uploads to a Google Cloud Storage (or Firebase Storage) bucket and makes each object public.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *logger.Logger
}

func NewGCSStore(ctx context.Context, cfg config.StorageConfig, credentialsFile string, log *logger.Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create client: %w", err)
	}

	return &GCSStore{client: client, bucket: cfg.Bucket, logger: log}, nil
}

func (s *GCSStore) Name() string { return config.StorageGCS }

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

func (s *GCSStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	obj := s.object(key)

	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, r); err != nil {
		writer.Close()
		return "", fmt.Errorf("gcs: failed to copy data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("gcs: failed to close writer: %w", err)
	}

	if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		return "", fmt.Errorf("gcs: failed to make %s public: %w", key, err)
	}

	s.logger.Debug("Uploaded gs://%s/%s", s.bucket, key)
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key), nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs: failed to stat %s: %w", key, err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
