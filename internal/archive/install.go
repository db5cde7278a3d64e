package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"wsync-go/internal/encryption"
	"wsync-go/internal/wsync"
)

var tracer = otel.Tracer("wsync-go/internal/archive")

// Installer downloads archives from a Store and unpacks them into the
// workspace.
type Installer struct {
	store     Store
	dir       string
	decrypter encryption.Decrypter
	logger    wsync.Logger
}

// NewInstaller creates an Installer unpacking into dir. The decrypter may be
// nil when no encrypted archives are expected.
func NewInstaller(store Store, dir string, decrypter encryption.Decrypter, logger wsync.Logger) *Installer {
	if logger == nil {
		logger = wsync.NewNopLogger()
	}
	return &Installer{store: store, dir: dir, decrypter: decrypter, logger: logger}
}

// Install accepts a manifest key, as returned by Index, or the key of an
// archive object whose format is inferred from its name.
func (i *Installer) Install(ctx context.Context, archiveType, key string, output io.Writer) error {
	ctx, span := tracer.Start(ctx, "archive.install")
	defer span.End()
	span.SetAttributes(attribute.String("type", archiveType), attribute.String("key", key))

	if output == nil {
		output = io.Discard
	}

	var (
		m   *Manifest
		err error
	)
	if isManifestKey(key) {
		m, err = ReadManifest(ctx, i.store, key)
	} else {
		m, err = manifestForKey(archiveType, key)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	if m.Encrypted && i.decrypter == nil {
		return fmt.Errorf("archive %s is encrypted and no private key is configured", m.Key)
	}

	fmt.Fprintf(output, "Downloading %s\n", m.Key)
	downloaded, err := i.download(ctx, m)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer removeTemp(downloaded)

	plain := downloaded
	if m.Encrypted {
		fmt.Fprintf(output, "Decrypting %s\n", m.Key)
		if plain, err = i.decrypt(downloaded); err != nil {
			span.RecordError(err)
			return err
		}
		defer removeTemp(plain)
	}

	n, err := unpack(ctx, m.Format, plain, i.dir)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("unpacking %s: %w", m.Key, err)
	}
	span.SetAttributes(attribute.Int("files", n))
	fmt.Fprintf(output, "Extracted %d files to %s\n", n, i.dir)
	i.logger.Info("archive installed", "type", archiveType, "key", m.Key, "files", n)
	return nil
}

// download copies the archive to a temp file, verifying its size and digest
// when the manifest records them.
func (i *Installer) download(ctx context.Context, m *Manifest) (*os.File, error) {
	rc, err := i.store.Open(ctx, m.Key)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "wsync-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating download file: %w", err)
	}
	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), rc)
	if err != nil {
		removeTemp(f)
		return nil, fmt.Errorf("downloading %s: %w", m.Key, err)
	}
	if m.Size > 0 && n != m.Size {
		removeTemp(f)
		return nil, fmt.Errorf("archive %s is %d bytes, manifest says %d", m.Key, n, m.Size)
	}
	if m.Digest != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != m.Digest {
			removeTemp(f)
			return nil, fmt.Errorf("archive %s digest mismatch: got %s, want %s", m.Key, got, m.Digest)
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		removeTemp(f)
		return nil, err
	}
	return f, nil
}

func (i *Installer) decrypt(src *os.File) (*os.File, error) {
	f, err := os.CreateTemp("", "wsync-archive-plain-*")
	if err != nil {
		return nil, fmt.Errorf("creating decryption file: %w", err)
	}
	if err := i.decrypter.Decrypt(src, f); err != nil {
		removeTemp(f)
		return nil, fmt.Errorf("decrypting archive: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		removeTemp(f)
		return nil, err
	}
	return f, nil
}

func removeTemp(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

var _ wsync.ArchiveInstaller = (*Installer)(nil)
