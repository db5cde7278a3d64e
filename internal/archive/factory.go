package archive

import (
	"context"
	"fmt"

	"wsync-go/internal/config"
)

// NewStoreFromConfig creates a Store based on the archive config type.
func NewStoreFromConfig(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Name), nil
	case "s3":
		return NewS3Store(ctx, cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.Name, cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown archive store type: %s", cfg.Type)
	}
}
