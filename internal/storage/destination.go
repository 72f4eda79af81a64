package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

// New builds the destination selected by cfg.Type.
func New(ctx context.Context, cfg backup.DestinationConfig, prober backup.VolumeProber, logger zerolog.Logger) (backup.Destination, error) {
	switch cfg.Type {
	case "", "local":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%w: destination.dir is required for a local destination", backup.ErrInvalidConfig)
		}
		return NewLocal(cfg.Dir, cfg.Prefix, prober, logger), nil
	case "minio":
		return NewMinio(ctx, cfg.Minio, cfg.Prefix, logger)
	case "s3":
		return NewS3(ctx, cfg.S3, cfg.Prefix, logger)
	default:
		return nil, fmt.Errorf("%w: unknown destination type %q", backup.ErrInvalidConfig, cfg.Type)
	}
}
