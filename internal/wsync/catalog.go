package wsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxChanges is the retained window of a new catalog.
const DefaultMaxChanges = 100

// LatestChangeType selects which change FindChangeToSync returns.
type LatestChangeType int

const (
	LatestChangeAny LatestChangeType = iota
	LatestChangeGood
)

func (t LatestChangeType) String() string {
	if t == LatestChangeGood {
		return "good"
	}
	return "any"
}

// ParseLatestChangeType accepts "any" or "good".
func ParseLatestChangeType(s string) (LatestChangeType, error) {
	switch s {
	case "", "any":
		return LatestChangeAny, nil
	case "good":
		return LatestChangeGood, nil
	}
	return LatestChangeAny, fmt.Errorf("unknown change selector %q", s)
}

type archiveKey struct {
	archiveType string
	change      int
}

// catalogSnapshot is immutable once published.
type catalogSnapshot struct {
	changes  []Change // newest first
	types    map[int]ChangeType
	verdicts map[int]Verdict
	// effective archive per type and change, after content chaining
	archives map[archiveKey]string
	// ascending change numbers and their positions
	sorted   []int
	position map[int]int
}

func newCatalogSnapshot(changes []Change, direct map[archiveKey]string, verdicts map[int]Verdict, archiveTypes []string) *catalogSnapshot {
	s := &catalogSnapshot{
		changes:  changes,
		types:    make(map[int]ChangeType, len(changes)),
		verdicts: verdicts,
		archives: map[archiveKey]string{},
		position: make(map[int]int, len(changes)),
	}
	for _, c := range changes {
		s.types[c.Number] = c.Type
		s.sorted = append(s.sorted, c.Number)
	}
	sort.Ints(s.sorted)
	for i, n := range s.sorted {
		s.position[n] = i
	}

	for _, archiveType := range archiveTypes {
		current := ""
		for _, n := range s.sorted {
			if s.verdicts[n] == VerdictBad {
				current = ""
				continue
			}
			switch s.types[n] {
			case ChangeTypeCode:
				current = direct[archiveKey{archiveType, n}]
			case ChangeTypeContent:
			default:
				current = ""
			}
			if current != "" {
				s.archives[archiveKey{archiveType, n}] = current
			}
		}
	}
	return s
}

// ChangeCatalog caches the submitted changes of a stream with their types,
// verdicts and archive availability. Reads never block on the network.
type ChangeCatalog struct {
	source       ChangeSource
	archives     ArchiveIndex
	verdicts     VerdictSource
	archiveTypes []string
	logger       Logger

	snapshot   atomic.Pointer[catalogSnapshot]
	maxChanges atomic.Int64

	// guarded by refreshMu
	refreshMu    sync.Mutex
	typeCache    map[int]ChangeType
	archiveCache map[archiveKey]string

	statusMu   sync.Mutex
	lastStatus string
}

// NewChangeCatalog creates an empty catalog. archives and verdicts may be nil.
func NewChangeCatalog(source ChangeSource, archives ArchiveIndex, verdicts VerdictSource, archiveTypes []string, logger Logger) *ChangeCatalog {
	if logger == nil {
		logger = NewNopLogger()
	}
	if len(archiveTypes) == 0 {
		archiveTypes = []string{EditorArchiveType}
	}
	c := &ChangeCatalog{
		source:       source,
		archives:     archives,
		verdicts:     verdicts,
		archiveTypes: append([]string(nil), archiveTypes...),
		logger:       logger,
		typeCache:    map[int]ChangeType{},
		archiveCache: map[archiveKey]string{},
	}
	c.maxChanges.Store(DefaultMaxChanges)
	c.snapshot.Store(newCatalogSnapshot(nil, nil, nil, nil))
	return c
}

// PendingMaxChanges is the window size the next refresh requests.
func (c *ChangeCatalog) PendingMaxChanges() int {
	return int(c.maxChanges.Load())
}

// SetPendingMaxChanges resizes the retained window from the next refresh.
func (c *ChangeCatalog) SetPendingMaxChanges(n int) {
	if n < 1 {
		n = 1
	}
	c.maxChanges.Store(int64(n))
}

// LastStatusMessage describes the last refresh failure, or is empty.
func (c *ChangeCatalog) LastStatusMessage() string {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.lastStatus
}

func (c *ChangeCatalog) setStatus(msg string) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.lastStatus = msg
}

// Refresh queries the server and publishes a new snapshot. On error the
// previous snapshot stays in place and LastStatusMessage records the failure.
func (c *ChangeCatalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	changes, err := c.source.GetChanges(ctx, c.PendingMaxChanges())
	if err != nil {
		c.setStatus(fmt.Sprintf("Failed to query changes: %v", err))
		c.logger.Warn("catalog refresh failed", "error", err)
		return fmt.Errorf("querying changes: %w", err)
	}
	changes = append([]Change(nil), changes...)
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Number > changes[j].Number })

	var problems []string
	window := make(map[int]bool, len(changes))
	for i := range changes {
		n := changes[i].Number
		window[n] = true
		typ, ok := c.typeCache[n]
		if !ok {
			files, err := c.source.DescribeChange(ctx, n)
			if err != nil {
				problems = append(problems, fmt.Sprintf("describing change %d: %v", n, err))
				typ = ChangeTypeUnknown
			} else {
				typ = ClassifyChangeType(files)
				c.typeCache[n] = typ
			}
		}
		changes[i].Type = typ
	}

	if c.archives != nil {
		for _, archiveType := range c.archiveTypes {
			for _, ch := range changes {
				key := archiveKey{archiveType, ch.Number}
				if ch.Type != ChangeTypeCode {
					continue
				}
				if _, ok := c.archiveCache[key]; ok {
					continue
				}
				p, found, err := c.archives.GetArchiveManifest(ctx, ch.Number, archiveType)
				if err != nil {
					problems = append(problems, fmt.Sprintf("querying %s archive for %d: %v", archiveType, ch.Number, err))
					continue
				}
				if found {
					c.archiveCache[key] = p
				}
			}
		}
	}

	verdicts := c.snapshot.Load().verdicts
	if c.verdicts != nil {
		numbers := make([]int, len(changes))
		for i, ch := range changes {
			numbers[i] = ch.Number
		}
		fresh, err := c.verdicts.GetVerdicts(ctx, numbers)
		if err != nil {
			problems = append(problems, fmt.Sprintf("querying verdicts: %v", err))
		} else {
			verdicts = fresh
		}
	}

	for n := range c.typeCache {
		if !window[n] {
			delete(c.typeCache, n)
		}
	}
	for key := range c.archiveCache {
		if !window[key.change] {
			delete(c.archiveCache, key)
		}
	}

	c.snapshot.Store(newCatalogSnapshot(changes, c.archiveCache, verdicts, c.archiveTypes))
	if len(problems) > 0 {
		c.setStatus(problems[0])
		c.logger.Warn("catalog refresh incomplete", "problems", len(problems), "first", problems[0])
	} else {
		c.setStatus("")
	}
	c.logger.Debug("catalog refreshed", "changes", len(changes))
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (c *ChangeCatalog) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = c.Refresh(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetChanges returns the cached changes, newest first.
func (c *ChangeCatalog) GetChanges() []Change {
	return append([]Change(nil), c.snapshot.Load().changes...)
}

// TryGetChangeType returns the type of a cached change. Unknown types are not found.
func (c *ChangeCatalog) TryGetChangeType(change int) (ChangeType, bool) {
	typ, ok := c.snapshot.Load().types[change]
	if !ok || typ == ChangeTypeUnknown {
		return ChangeTypeUnknown, false
	}
	return typ, true
}

// TryGetVerdict returns the verdict recorded for a change.
func (c *ChangeCatalog) TryGetVerdict(change int) (Verdict, bool) {
	v, ok := c.snapshot.Load().verdicts[change]
	return v, ok
}

// TryGetArchivePathForChangeNumber looks up the editor archive for a change.
func (c *ChangeCatalog) TryGetArchivePathForChangeNumber(change int) (string, bool) {
	return c.TryGetArchivePath(EditorArchiveType, change)
}

// TryGetArchivePath returns the archive covering a change. Content changes
// reuse the archive of the closest earlier code change unless a change with
// a bad verdict lies between them.
func (c *ChangeCatalog) TryGetArchivePath(archiveType string, change int) (string, bool) {
	p, ok := c.snapshot.Load().archives[archiveKey{archiveType, change}]
	return p, ok
}

// CanSyncChange reports whether change is a valid sync target. The change
// must have an archive of every type in requiredArchives.
func (c *ChangeCatalog) CanSyncChange(change int, requiredArchives []string) bool {
	return c.snapshot.Load().canSync(change, requiredArchives)
}

func (s *catalogSnapshot) canSync(change int, requiredArchives []string) bool {
	if _, ok := s.position[change]; !ok {
		return false
	}
	for _, typ := range requiredArchives {
		if _, ok := s.archives[archiveKey{typ, change}]; !ok {
			return false
		}
	}
	return true
}

// FindChangeToSync picks the newest change matching kind, then extends it
// over newer content-only changes.
func (c *ChangeCatalog) FindChangeToSync(kind LatestChangeType, requiredArchives []string) (int, bool) {
	snap := c.snapshot.Load()
	for _, ch := range snap.changes {
		if kind == LatestChangeGood && snap.verdicts[ch.Number] != VerdictGood {
			continue
		}
		if !snap.canSync(ch.Number, requiredArchives) {
			continue
		}
		return snap.newestGoodContentChange(ch.Number), true
	}
	return 0, false
}

// FindNewestGoodContentChange returns the newest change reachable from change
// through contiguous content changes without a bad verdict.
func (c *ChangeCatalog) FindNewestGoodContentChange(change int) int {
	return c.snapshot.Load().newestGoodContentChange(change)
}

func (s *catalogSnapshot) newestGoodContentChange(change int) int {
	idx, ok := s.position[change]
	if !ok {
		return change
	}
	for next := idx + 1; next < len(s.sorted); next++ {
		n := s.sorted[next]
		if s.types[n] != ChangeTypeContent || s.verdicts[n] == VerdictBad {
			break
		}
		idx = next
	}
	return s.sorted[idx]
}
