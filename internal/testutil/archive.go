package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"wsync-go/internal/wsync"
)

// InstalledArchive is one recorded FakeArchiveInstaller call.
type InstalledArchive struct {
	Type string
	Path string
}

// FakeArchiveInstaller records installs and can fail on demand.
type FakeArchiveInstaller struct {
	mu        sync.Mutex
	installed []InstalledArchive
	FailPath  string
}

func NewFakeArchiveInstaller() *FakeArchiveInstaller {
	return &FakeArchiveInstaller{}
}

func (f *FakeArchiveInstaller) Install(ctx context.Context, archiveType, path string, output io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path == f.FailPath {
		return fmt.Errorf("archive %s is corrupt", path)
	}
	f.installed = append(f.installed, InstalledArchive{Type: archiveType, Path: path})
	return nil
}

// Installed returns the recorded installs in order.
func (f *FakeArchiveInstaller) Installed() []InstalledArchive {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InstalledArchive(nil), f.installed...)
}

// FakeArchiveIndex answers GetArchiveManifest from a map.
type FakeArchiveIndex struct {
	mu       sync.Mutex
	Archives map[string]map[int]string // archive type -> change -> path
	queries  int
}

func NewFakeArchiveIndex() *FakeArchiveIndex {
	return &FakeArchiveIndex{Archives: map[string]map[int]string{}}
}

// Publish registers an archive path for a change.
func (f *FakeArchiveIndex) Publish(archiveType string, change int, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Archives[archiveType] == nil {
		f.Archives[archiveType] = map[int]string{}
	}
	f.Archives[archiveType][change] = path
}

func (f *FakeArchiveIndex) GetArchiveManifest(ctx context.Context, change int, archiveType string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	p, ok := f.Archives[archiveType][change]
	return p, ok, nil
}

// Queries counts GetArchiveManifest calls.
func (f *FakeArchiveIndex) Queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// FakeVerdictSource serves a fixed verdict map.
type FakeVerdictSource struct {
	mu       sync.Mutex
	Verdicts map[int]wsync.Verdict
}

func NewFakeVerdictSource() *FakeVerdictSource {
	return &FakeVerdictSource{Verdicts: map[int]wsync.Verdict{}}
}

func (f *FakeVerdictSource) Set(change int, v wsync.Verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Verdicts[change] = v
}

func (f *FakeVerdictSource) GetVerdicts(ctx context.Context, changes []int) (map[int]wsync.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]wsync.Verdict{}
	for _, n := range changes {
		if v, ok := f.Verdicts[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

// Compile-time checks
var (
	_ wsync.ArchiveInstaller = (*FakeArchiveInstaller)(nil)
	_ wsync.ArchiveIndex     = (*FakeArchiveIndex)(nil)
	_ wsync.VerdictSource    = (*FakeVerdictSource)(nil)
)
