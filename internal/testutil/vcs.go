package testutil

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"wsync-go/internal/wsync"
)

// FakeVCS is a scriptable version control client.
type FakeVCS struct {
	mu sync.Mutex

	Changes   []wsync.Change
	Files     map[int][]string // depot paths per change
	Preview   map[int][]string // workspace-relative paths per target change
	Opened    []string
	Untracked []string

	// Clobbered files block a sync until they appear in ForceFiles.
	Clobbered []string
	// Unresolved files block a sync unless AutoResolve is set.
	Unresolved []string
	SyncErr    error
	ChangesErr error
	PanicMsg   string

	// When Block is non-nil Sync signals Entered and waits for Block or ctx.
	Block   chan struct{}
	Entered chan struct{}

	requests  []wsync.SyncRequest
	describes []int
}

// NewFakeVCS creates an empty fake.
func NewFakeVCS() *FakeVCS {
	return &FakeVCS{Files: map[int][]string{}, Preview: map[int][]string{}}
}

func (v *FakeVCS) GetChanges(ctx context.Context, maxChanges int) ([]wsync.Change, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ChangesErr != nil {
		return nil, v.ChangesErr
	}
	changes := slices.Clone(v.Changes)
	slices.SortFunc(changes, func(a, b wsync.Change) int { return b.Number - a.Number })
	if len(changes) > maxChanges {
		changes = changes[:maxChanges]
	}
	for i := range changes {
		changes[i].Type = wsync.ChangeTypeUnknown
	}
	return changes, nil
}

func (v *FakeVCS) DescribeChange(ctx context.Context, change int) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.describes = append(v.describes, change)
	files, ok := v.Files[change]
	if !ok {
		return nil, fmt.Errorf("change %d does not exist", change)
	}
	return slices.Clone(files), nil
}

// DescribeCalls lists the changes DescribeChange was asked about.
func (v *FakeVCS) DescribeCalls() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.describes)
}

func (v *FakeVCS) PreviewSync(ctx context.Context, change int) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.Preview[change]), nil
}

func (v *FakeVCS) Sync(ctx context.Context, req wsync.SyncRequest) (wsync.SyncOutcome, error) {
	v.mu.Lock()
	v.requests = append(v.requests, req)
	block, entered := v.Block, v.Entered
	panicMsg := v.PanicMsg
	v.mu.Unlock()

	if block != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return wsync.SyncOutcome{}, ctx.Err()
		}
	}
	if panicMsg != "" {
		panic(panicMsg)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.SyncErr != nil {
		return wsync.SyncOutcome{}, v.SyncErr
	}
	if req.Output != nil {
		io.WriteString(req.Output, fmt.Sprintf("syncing to %d\n", req.ChangeNumber))
	}
	if len(v.Unresolved) > 0 && !req.AutoResolve {
		return wsync.SyncOutcome{Status: wsync.SyncFilesToResolve, Files: slices.Clone(v.Unresolved)}, nil
	}
	var blocked []string
	for _, f := range v.Clobbered {
		if !slices.Contains(req.ForceFiles, f) {
			blocked = append(blocked, f)
		}
	}
	if len(blocked) > 0 {
		return wsync.SyncOutcome{Status: wsync.SyncFilesToClobber, Files: blocked}, nil
	}
	return wsync.SyncOutcome{Status: wsync.SyncSucceeded}, nil
}

// Requests returns every SyncRequest received.
func (v *FakeVCS) Requests() []wsync.SyncRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.requests)
}

func (v *FakeVCS) OpenedFiles(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.Opened), nil
}

func (v *FakeVCS) FindUntrackedFiles(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.Untracked), nil
}

// Compile-time check
var _ wsync.VCS = (*FakeVCS)(nil)
