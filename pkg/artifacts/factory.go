package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names an artifact storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend   Backend
	DataDir   string
	S3        S3Config
	GCSBucket string
	GCSPrefix string
}

// New builds the configured Store. The filesystem backend is the default and
// lives under DataDir/artifacts.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFS:
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "artifacts"))
	case BackendS3:
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
		return NewS3Store(ctx, cfg.S3)
	case BackendGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %q", cfg.Backend)
	}
}
