package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wsync-go/internal/config"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFileSystemStore("test", filepath.Join(t.TempDir(), "archives"))
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	return map[string]Store{
		"memory":     NewMemoryStore("test"),
		"filesystem": fsStore,
	}
}

func readAll(t *testing.T, s Store, key string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading %q: %v", key, err)
	}
	return string(data)
}

func TestStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, "Editor/100.zip", strings.NewReader("binaries"), 8); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if got := readAll(t, s, "Editor/100.zip"); got != "binaries" {
				t.Errorf("Open() = %q, want %q", got, "binaries")
			}

			ok, err := s.Exists(ctx, "Editor/100.zip")
			if err != nil || !ok {
				t.Errorf("Exists() = %v, %v; want true", ok, err)
			}
			ok, err = s.Exists(ctx, "Editor/101.zip")
			if err != nil || ok {
				t.Errorf("Exists(missing) = %v, %v; want false", ok, err)
			}

			// overwrite
			if err := s.Put(ctx, "Editor/100.zip", strings.NewReader("rebuilt"), -1); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			if got := readAll(t, s, "Editor/100.zip"); got != "rebuilt" {
				t.Errorf("Open() after overwrite = %q, want %q", got, "rebuilt")
			}

			if err := s.ValidateSetup(ctx); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Open(ctx, "Editor/missing.zip"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
			}
			if err := s.Put(ctx, "Editor/1.zip", strings.NewReader("short"), 100); err == nil {
				t.Error("Put() expected size mismatch error")
			}
			if ok, _ := s.Exists(ctx, "Editor/1.zip"); ok {
				t.Error("Put() with a size mismatch left an object behind")
			}
			if err := s.Put(ctx, "../outside.zip", strings.NewReader("x"), 1); err == nil {
				t.Error("Put() expected error for a key escaping the store")
			}
			if err := s.Put(ctx, "", strings.NewReader("x"), 1); err == nil {
				t.Error("Put() expected error for an empty key")
			}
		})
	}
}

func TestFileSystemStore_Layout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archives")
	s, err := NewFileSystemStore("share", root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	if err := s.Put(context.Background(), `Editor\100.toml`, strings.NewReader("m"), 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "Editor", "100.toml")); err != nil {
		t.Errorf("object not stored under the root: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "Editor"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}

	t.Run("root must be a directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewFileSystemStore("bad", file); err == nil {
			t.Error("NewFileSystemStore() expected error for a file root")
		}
	})
}

func TestMemoryStore_Keys(t *testing.T) {
	s := NewMemoryStore("test")
	for _, k := range []string{"Tools/5.zip", "Editor/5.zip", "/Editor/4.zip"} {
		if err := s.Put(context.Background(), k, strings.NewReader(""), 0); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}
	got := s.Keys()
	want := []string{"Editor/4.zip", "Editor/5.zip", "Tools/5.zip"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     config.ArchiveConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.ArchiveConfig{Type: "memory", Name: "mem"}},
		{name: "filesystem", cfg: config.ArchiveConfig{Type: "filesystem", FSRoot: t.TempDir()}},
		{name: "filesystem without root", cfg: config.ArchiveConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.ArchiveConfig{Type: "s3"}, wantErr: true},
		{name: "unknown", cfg: config.ArchiveConfig{Type: "ftp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStoreFromConfig(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s == nil {
				t.Error("NewStoreFromConfig() returned nil store")
			}
		})
	}
}

func TestApplyPrefix(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "Editor/1.toml", "Editor/1.toml"},
		{"builds/", "Editor/1.toml", "builds/Editor/1.toml"},
		{"/builds/game/", "/Editor/1.toml", "builds/game/Editor/1.toml"},
		{"builds", "", "builds"},
	}
	for _, tt := range tests {
		if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
			t.Errorf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}
