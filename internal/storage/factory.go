package storage

import (
	"context"

	appconfig "github.com/tbelova/jobpilot/internal/config"
)

// NewStorage picks the backend from STORAGE_MODE. Anything unrecognized
// falls back to the local filesystem so a bare dev environment still runs.
func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	if cfg.StorageMode == "s3" || cfg.StorageMode == "aws" || cfg.StorageMode == "localstack" {
		return NewS3Storage(ctx, cfg)
	}
	return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
}

// GetStorageType describes the active backend for startup logs.
func GetStorageType(cfg appconfig.Config) string {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		if isLocalStackEndpoint(cfg.S3Endpoint) {
			return "LocalStack S3"
		}
		return "AWS S3"
	default:
		return "Local Filesystem"
	}
}
