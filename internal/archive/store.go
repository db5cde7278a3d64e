// Package archive publishes and installs precompiled binary archives.
//
// A published archive is two objects in a Store: the archive bytes and a
// TOML manifest next to them. The manifest is written last, so an archive is
// visible to the change catalog only once it is complete:
//
//	<type>/<change>.toml           manifest
//	<type>/<change>.<format>[.age] archive, optionally age encrypted
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Store.Open for a missing key.
var ErrNotFound = errors.New("archive object not found")

// Store holds archive objects under slash-separated keys.
type Store interface {
	// Put stores r under key. A negative size skips the length check.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Open returns the object stored under key, or an error wrapping
	// ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// ValidateSetup verifies that the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// cleanKey rejects keys that could escape the store root.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", fmt.Errorf("empty archive key")
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("archive key %q escapes the store", key)
	}
	return cleaned, nil
}

// countingReader tracks how many bytes were read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
