// Package storage keeps uploaded images on the local disk or in an
// S3-compatible bucket and hands back the public URL to store in image_url
// fields.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"portfolio-cms/internal/config"
)

// FileStorage stores objects under a key and resolves their public URL.
type FileStorage interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the storage backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (FileStorage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.LocalPath, cfg.PublicURL), nil
	case "s3":
		s, err := NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("bucket", cfg.S3.Bucket).Msg("using s3 storage")
		return s, nil
	}
	return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
}
