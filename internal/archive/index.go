package archive

import (
	"context"
	"fmt"

	"wsync-go/internal/wsync"
)

// Index answers which changes have a published archive. The path it returns
// is the manifest key, which Installer accepts.
type Index struct {
	store Store
}

func NewIndex(store Store) *Index {
	return &Index{store: store}
}

func (i *Index) GetArchiveManifest(ctx context.Context, change int, archiveType string) (string, bool, error) {
	key := ManifestKey(archiveType, change)
	ok, err := i.store.Exists(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("looking up %s archive for change %d: %w", archiveType, change, err)
	}
	if !ok {
		return "", false, nil
	}
	return key, true, nil
}

var _ wsync.ArchiveIndex = (*Index)(nil)
