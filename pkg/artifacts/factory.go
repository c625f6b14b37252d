package artifacts

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// StoreType selects the module storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// StoreConfig selects and configures a backend. Only the fields of the
// selected Type are read.
type StoreConfig struct {
	Type StoreType

	Dir string

	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("module store directory is required for fs storage")
		}
		return NewFileStore(cfg.Dir)
	case StoreTypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("MODULE_STORE_BUCKET is required for S3 storage")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case StoreTypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("MODULE_STORE_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported module storage type: %s", cfg.Type)
	}
}

// ConfigFromEnv reads MODULE_STORE_* variables. The region falls back to
// AWS_REGION.
func ConfigFromEnv() StoreConfig {
	cfg := StoreConfig{
		Type:     StoreType(strings.ToLower(os.Getenv("MODULE_STORE_TYPE"))),
		Dir:      os.Getenv("MODULE_STORE_DIR"),
		Bucket:   os.Getenv("MODULE_STORE_BUCKET"),
		Prefix:   os.Getenv("MODULE_STORE_PREFIX"),
		Region:   os.Getenv("MODULE_STORE_REGION"),
		Endpoint: os.Getenv("MODULE_STORE_ENDPOINT"),
	}
	if cfg.Type == "" {
		cfg.Type = StoreTypeFS
	}
	if cfg.Dir == "" {
		cfg.Dir = "data/modules"
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}
	return cfg
}

// NewStoreFromEnv builds the store selected by the environment.
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	return NewStore(ctx, ConfigFromEnv())
}
