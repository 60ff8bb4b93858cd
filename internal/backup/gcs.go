package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStorage stores and fetches whole objects.
// This interface enables mocking of the cloud storage in tests.
type ObjectStorage interface {
	// Upload writes data to bucket/object, replacing any existing object.
	Upload(ctx context.Context, bucket, object, contentType string, data []byte) error

	// Download reads the whole object.
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// GCSStorage is the Google Cloud Storage implementation of ObjectStorage.
// It assumes Application Default Credentials are configured.
type GCSStorage struct {
	client *storage.Client
}

// NewGCSStorage creates a storage client. Call Close when done.
func NewGCSStorage(ctx context.Context) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStorage{client: client}, nil
}

// Close releases the storage client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Upload implements ObjectStorage.
func (s *GCSStorage) Upload(ctx context.Context, bucket, object, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write GCS object %s/%s: %w", bucket, object, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s/%s: %w", bucket, object, err)
	}
	return nil
}

// Download implements ObjectStorage.
func (s *GCSStorage) Download(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader %s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// URI builds the gs:// form of bucket/object.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// Filename returns the last path element of a GCS URI.
// e.g., "gs://bucket/backups/ws/20240101T000000Z.json" → "20240101T000000Z.json"
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
