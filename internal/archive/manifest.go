package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Format is the container format of an archive.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarZst Format = "tar.zst"
	FormatTarLZ4 Format = "tar.lz4"
)

const encryptedSuffix = ".age"

// formatFromName infers the format from a file name, reporting whether the
// name carries the age suffix.
func formatFromName(name string) (Format, bool, error) {
	lower := strings.ToLower(name)
	encrypted := strings.HasSuffix(lower, encryptedSuffix)
	lower = strings.TrimSuffix(lower, encryptedSuffix)

	switch {
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst, encrypted, nil
	case strings.HasSuffix(lower, ".tar.lz4"):
		return FormatTarLZ4, encrypted, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, encrypted, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, encrypted, nil
	default:
		return "", encrypted, fmt.Errorf("unrecognized archive format: %s", name)
	}
}

// Manifest describes one published archive.
type Manifest struct {
	Type        string    `toml:"type"`
	Change      int       `toml:"change"`
	Key         string    `toml:"key"`
	Format      Format    `toml:"format"`
	Size        int64     `toml:"size"`
	Digest      string    `toml:"blake3"`
	Encrypted   bool      `toml:"encrypted"`
	PublishedAt time.Time `toml:"published_at"`
}

// ManifestKey is the store key of the manifest for a type and change.
func ManifestKey(archiveType string, change int) string {
	return path.Join(archiveType, strconv.Itoa(change)+".toml")
}

func archiveKey(archiveType string, change int, format Format, encrypted bool) string {
	name := fmt.Sprintf("%d.%s", change, format)
	if encrypted {
		name += encryptedSuffix
	}
	return path.Join(archiveType, name)
}

func isManifestKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".toml")
}

func writeManifest(ctx context.Context, store Store, m *Manifest) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	key := ManifestKey(m.Type, m.Change)
	if err := store.Put(ctx, key, &buf, int64(buf.Len())); err != nil {
		return fmt.Errorf("storing manifest %s: %w", key, err)
	}
	return nil
}

// ReadManifest loads the manifest stored under key.
func ReadManifest(ctx context.Context, store Store, key string) (*Manifest, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", key, err)
	}
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", key, err)
	}
	if m.Key == "" {
		return nil, fmt.Errorf("manifest %s names no archive", key)
	}
	return &m, nil
}

// manifestForKey describes an archive referenced directly by key, without a
// published manifest. Nothing is known about its digest.
func manifestForKey(archiveType, key string) (*Manifest, error) {
	format, encrypted, err := formatFromName(key)
	if err != nil {
		return nil, err
	}
	return &Manifest{Type: archiveType, Key: key, Format: format, Size: -1, Encrypted: encrypted}, nil
}
