//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/canonicalize"
)

// GCSStore keeps modules in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed module store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(rawHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(objectKey(s.prefix, rawHash))
}

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := checkModule(data); err != nil {
		return "", err
	}
	hash := canonicalize.HashBytes(data)
	rawHash, _ := parseHash(hash)

	// Create-only; a lost race with an identical upload is not an error.
	w := s.object(rawHash).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/wasm"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		if exists, _ := s.Exists(ctx, hash); exists {
			return hash, nil
		}
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return hash, nil
}

func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	r, err := s.object(rawHash).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", hash, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed for %s: %w", hash, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := parseHash(hash)
	if err != nil {
		return false, err
	}
	if _, err := s.object(rawHash).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, hash string) error {
	rawHash, err := parseHash(hash)
	if err != nil {
		return err
	}
	if err := s.object(rawHash).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", hash, err)
	}
	return nil
}

// Close releases the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
