package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/blake3"

	"wsync-go/internal/encryption"
	"wsync-go/internal/wsync"
)

// PublishRequest names the archive to publish. Source is either an archive
// file in a supported format or a directory, which is packed as tar.zst.
type PublishRequest struct {
	Type   string
	Change int
	Source string
}

// Publisher uploads archives and their manifests.
type Publisher struct {
	store     Store
	encryptor encryption.Encryptor
	now       func() time.Time
	logger    wsync.Logger
}

// NewPublisher creates a Publisher. A nil encryptor stores archives in the
// clear.
func NewPublisher(store Store, encryptor encryption.Encryptor, logger wsync.Logger) *Publisher {
	if logger == nil {
		logger = wsync.NewNopLogger()
	}
	return &Publisher{store: store, encryptor: encryptor, now: time.Now, logger: logger}
}

// Publish stores the archive and then its manifest.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*Manifest, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("archive type is required")
	}
	if req.Change <= 0 {
		return nil, fmt.Errorf("invalid change number %d", req.Change)
	}
	info, err := os.Stat(req.Source)
	if err != nil {
		return nil, fmt.Errorf("reading archive source: %w", err)
	}

	var (
		format Format
		plain  io.ReadCloser
	)
	if info.IsDir() {
		format = FormatTarZst
		pr, pw := io.Pipe()
		go func() {
			n, err := Pack(ctx, req.Source, format, pw)
			p.logger.Debug("packed archive source", "dir", req.Source, "files", n)
			pw.CloseWithError(err)
		}()
		plain = pr
	} else {
		var encrypted bool
		format, encrypted, err = formatFromName(req.Source)
		if err != nil {
			return nil, err
		}
		if encrypted {
			return nil, fmt.Errorf("%s is already encrypted", req.Source)
		}
		if plain, err = os.Open(req.Source); err != nil {
			return nil, fmt.Errorf("opening archive source: %w", err)
		}
	}
	defer plain.Close()

	staged, err := os.CreateTemp("", "wsync-publish-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}
	defer func() {
		staged.Close()
		os.Remove(staged.Name())
	}()

	hasher := blake3.New()
	out := io.MultiWriter(staged, hasher)
	if p.encryptor != nil {
		err = p.encryptor.Encrypt(plain, out)
	} else {
		_, err = io.Copy(out, plain)
	}
	if err != nil {
		return nil, fmt.Errorf("staging archive: %w", err)
	}
	size, err := staged.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("sizing staged archive: %w", err)
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding staged archive: %w", err)
	}

	m := &Manifest{
		Type:        req.Type,
		Change:      req.Change,
		Key:         archiveKey(req.Type, req.Change, format, p.encryptor != nil),
		Format:      format,
		Size:        size,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
		Encrypted:   p.encryptor != nil,
		PublishedAt: p.now().UTC(),
	}
	if err := p.store.Put(ctx, m.Key, staged, size); err != nil {
		return nil, fmt.Errorf("uploading archive: %w", err)
	}
	if err := writeManifest(ctx, p.store, m); err != nil {
		return nil, err
	}
	p.logger.Info("archive published", "type", m.Type, "change", m.Change, "key", m.Key, "size", m.Size)
	return m, nil
}
