package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wsync-go/internal/encryption"
)

// writeTree creates files under dir from a path -> content map.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func assertTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			t.Errorf("reading installed %s: %v", rel, err)
			continue
		}
		if string(got) != want {
			t.Errorf("installed %s = %q, want %q", rel, got, want)
		}
	}
}

var editorFiles = map[string]string{
	"Engine/Binaries/Linux/UnrealEditor":       "editor",
	"Engine/Binaries/Linux/libUnrealCore.so":   "core",
	"Game/Binaries/Linux/libGameEditor.so":     "game module",
	"Game/Binaries/Linux/GameEditor.target":    "{}",
	"Engine/Plugins/Foo/Binaries/Linux/Foo.so": "plugin",
}

// packFile packs src into a file named name and returns its path.
func packFile(t *testing.T, src string, format Format, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n, err := Pack(context.Background(), src, format, f)
	if err != nil {
		t.Fatalf("Pack(%s) error = %v", format, err)
	}
	if n != len(editorFiles) {
		t.Errorf("Pack(%s) = %d files, want %d", format, n, len(editorFiles))
	}
	return p
}

func TestPublishInstall_Formats(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, editorFiles)

	tests := []struct {
		format Format
		name   string
	}{
		{FormatZip, "editor.zip"},
		{FormatTar, "editor.tar"},
		{FormatTarZst, "editor.tar.zst"},
		{FormatTarLZ4, "editor.tar.lz4"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore("test")
			pub := NewPublisher(store, nil, nil)
			pub.now = func() time.Time { return time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC) }

			m, err := pub.Publish(ctx, PublishRequest{Type: "Editor", Change: 100, Source: packFile(t, src, tt.format, tt.name)})
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if m.Format != tt.format || m.Encrypted {
				t.Errorf("manifest = %+v, want plain %s", m, tt.format)
			}
			if m.Key != "Editor/100."+string(tt.format) {
				t.Errorf("Key = %q, want %q", m.Key, "Editor/100."+string(tt.format))
			}
			if len(m.Digest) != 64 {
				t.Errorf("Digest = %q, want a 32 byte hex blake3 digest", m.Digest)
			}

			stored, err := ReadManifest(ctx, store, ManifestKey("Editor", 100))
			if err != nil {
				t.Fatalf("ReadManifest() error = %v", err)
			}
			if stored.Key != m.Key || stored.Digest != m.Digest || stored.Size != m.Size || !stored.PublishedAt.Equal(m.PublishedAt) {
				t.Errorf("ReadManifest() = %+v, want %+v", stored, m)
			}

			dest := t.TempDir()
			var out bytes.Buffer
			if err := NewInstaller(store, dest, nil, nil).Install(ctx, "Editor", ManifestKey("Editor", 100), &out); err != nil {
				t.Fatalf("Install() error = %v", err)
			}
			assertTree(t, dest, editorFiles)
			if !strings.Contains(out.String(), "Extracted 5 files") {
				t.Errorf("output = %q, want extraction summary", out.String())
			}
		})
	}
}

func TestPublish_Directory(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, editorFiles)
	store := NewMemoryStore("test")

	m, err := NewPublisher(store, nil, nil).Publish(ctx, PublishRequest{Type: "Editor", Change: 7, Source: src})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if m.Format != FormatTarZst {
		t.Errorf("Format = %q, want tar.zst for a directory", m.Format)
	}

	dest := t.TempDir()
	if err := NewInstaller(store, dest, nil, nil).Install(ctx, "Editor", ManifestKey("Editor", 7), nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	assertTree(t, dest, editorFiles)
}

func TestPublish_Validation(t *testing.T) {
	ctx := context.Background()
	pub := NewPublisher(NewMemoryStore("test"), nil, nil)
	plain := filepath.Join(t.TempDir(), "editor.rar")
	if err := os.WriteFile(plain, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  PublishRequest
	}{
		{"missing type", PublishRequest{Change: 1, Source: plain}},
		{"bad change", PublishRequest{Type: "Editor", Source: plain}},
		{"missing source", PublishRequest{Type: "Editor", Change: 1, Source: filepath.Join(t.TempDir(), "nope.zip")}},
		{"unknown format", PublishRequest{Type: "Editor", Change: 1, Source: plain}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := pub.Publish(ctx, tt.req); err == nil {
				t.Error("Publish() expected error")
			}
		})
	}
}

func TestPublishInstall_Encrypted(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, editorFiles)
	store := NewMemoryStore("test")
	keys := encryption.NewTestKeys()

	m, err := NewPublisher(store, keys, nil).Publish(ctx, PublishRequest{Type: "Editor", Change: 100, Source: src})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !m.Encrypted || m.Key != "Editor/100.tar.zst.age" {
		t.Errorf("manifest = %+v, want encrypted tar.zst.age", m)
	}

	t.Run("without a key", func(t *testing.T) {
		if err := NewInstaller(store, t.TempDir(), nil, nil).Install(ctx, "Editor", ManifestKey("Editor", 100), nil); err == nil {
			t.Error("Install() expected error without a decrypter")
		}
	})

	t.Run("with a key", func(t *testing.T) {
		dec, err := keys.Unlock("")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		dest := t.TempDir()
		if err := NewInstaller(store, dest, dec, nil).Install(ctx, "Editor", ManifestKey("Editor", 100), nil); err != nil {
			t.Fatalf("Install() error = %v", err)
		}
		assertTree(t, dest, editorFiles)
	})
}

func TestInstall_DigestMismatch(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, editorFiles)
	store := NewMemoryStore("test")

	m, err := NewPublisher(store, nil, nil).Publish(ctx, PublishRequest{Type: "Editor", Change: 100, Source: src})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// replace the archive with a different one of the same size
	rc, err := store.Open(ctx, m.Key)
	if err != nil {
		t.Fatal(err)
	}
	var tampered bytes.Buffer
	tampered.ReadFrom(rc)
	rc.Close()
	data := tampered.Bytes()
	data[len(data)-1] ^= 0xff
	if err := store.Put(ctx, m.Key, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatal(err)
	}

	err = NewInstaller(store, t.TempDir(), nil, nil).Install(ctx, "Editor", ManifestKey("Editor", 100), nil)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Errorf("Install() error = %v, want digest mismatch", err)
	}
}

func TestInstall_DirectKey(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, editorFiles)
	store := NewMemoryStore("test")

	var buf bytes.Buffer
	if _, err := Pack(ctx, src, FormatTarLZ4, &buf); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if err := store.Put(ctx, "Tools/tools-99.tar.lz4", &buf, -1); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := NewInstaller(store, dest, nil, nil).Install(ctx, "Tools", "Tools/tools-99.tar.lz4", nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	assertTree(t, dest, editorFiles)

	if err := NewInstaller(store, dest, nil, nil).Install(ctx, "Tools", "Tools/missing.tar.lz4", nil); err == nil {
		t.Error("Install() expected error for a missing archive")
	}
}

func TestInstall_ReplacesReadOnlyFiles(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, editorFiles)
	store := NewMemoryStore("test")
	if _, err := NewPublisher(store, nil, nil).Publish(ctx, PublishRequest{Type: "Editor", Change: 1, Source: src}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	dest := t.TempDir()
	stale := filepath.Join(dest, "Game", "Binaries", "Linux", "libGameEditor.so")
	writeTree(t, dest, map[string]string{"Game/Binaries/Linux/libGameEditor.so": "stale"})
	if err := os.Chmod(stale, 0444); err != nil {
		t.Fatal(err)
	}

	if err := NewInstaller(store, dest, nil, nil).Install(ctx, "Editor", ManifestKey("Editor", 1), nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	assertTree(t, dest, editorFiles)
}

func TestInstall_RejectsEscapingEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("test")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("owned")
	if err := tw.WriteHeader(&tar.Header{Name: "../../evil.sh", Mode: 0755, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	tw.Write(body)
	tw.Close()
	if err := store.Put(ctx, "Editor/bad.tar", &buf, -1); err != nil {
		t.Fatal(err)
	}

	parent := t.TempDir()
	dest := filepath.Join(parent, "ws", "root")
	if err := os.MkdirAll(dest, 0755); err != nil {
		t.Fatal(err)
	}
	err := NewInstaller(store, dest, nil, nil).Install(ctx, "Editor", "Editor/bad.tar", nil)
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("Install() error = %v, want escaping entry rejected", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "evil.sh")); err == nil {
		t.Error("escaping entry was written outside the install directory")
	}
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeTree(t, src, editorFiles)
	store := NewMemoryStore("test")
	if _, err := NewPublisher(store, nil, nil).Publish(ctx, PublishRequest{Type: "Editor", Change: 100, Source: src}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	idx := NewIndex(store)
	path, ok, err := idx.GetArchiveManifest(ctx, 100, "Editor")
	if err != nil || !ok || path != "Editor/100.toml" {
		t.Errorf("GetArchiveManifest(100) = %q, %v, %v; want Editor/100.toml", path, ok, err)
	}
	if _, ok, err := idx.GetArchiveManifest(ctx, 101, "Editor"); err != nil || ok {
		t.Errorf("GetArchiveManifest(101) = %v, %v; want not found", ok, err)
	}
	if _, ok, _ := idx.GetArchiveManifest(ctx, 100, "Tools"); ok {
		t.Error("GetArchiveManifest(Tools) found an archive of another type")
	}
}

func TestFormatFromName(t *testing.T) {
	tests := []struct {
		name          string
		want          Format
		wantEncrypted bool
		wantErr       bool
	}{
		{"Editor-100.zip", FormatZip, false, false},
		{"Editor-100.ZIP.age", FormatZip, true, false},
		{"Editor-100.tar.zst", FormatTarZst, false, false},
		{"Editor-100.tzst", FormatTarZst, false, false},
		{"Editor-100.tar.lz4.age", FormatTarLZ4, true, false},
		{"Editor-100.tar", FormatTar, false, false},
		{"Editor-100.7z", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, encrypted, err := formatFromName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("formatFromName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want || encrypted != tt.wantEncrypted {
				t.Errorf("formatFromName() = %q, %v; want %q, %v", got, encrypted, tt.want, tt.wantEncrypted)
			}
		})
	}
}
