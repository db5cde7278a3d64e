package wsync

import (
	"database/sql"
	"path/filepath"
	"slices"
	"time"
)

// WorkspaceID identifies a workspace by server, depot stream and local root.
type WorkspaceID struct {
	Server    string
	DepotPath string
	LocalRoot string
}

// String is the persistence key for the workspace.
func (id WorkspaceID) String() string {
	return id.Server + "|" + id.DepotPath + "|" + filepath.Clean(id.LocalRoot)
}

// PersistedSyncState is the durable record of a workspace's last update.
type PersistedSyncState struct {
	LastSyncChangeNumber    int
	LastSyncResult          WorkspaceUpdateResult
	LastSyncResultMessage   string
	LastSyncTime            sql.NullTime
	LastSyncDurationSeconds int
	LastBuiltChangeNumber   int
	CurrentChangeNumber     int
	AdditionalChangeNumbers []int
	ExpandedArchiveTypes    []string
}

// NewPersistedSyncState returns the state of a workspace that has never been synced.
func NewPersistedSyncState() *PersistedSyncState {
	return &PersistedSyncState{
		LastSyncChangeNumber:  0,
		LastBuiltChangeNumber: 0,
		CurrentChangeNumber:   -1,
	}
}

// Clone returns a deep copy.
func (s *PersistedSyncState) Clone() *PersistedSyncState {
	c := *s
	c.AdditionalChangeNumbers = slices.Clone(s.AdditionalChangeNumbers)
	c.ExpandedArchiveTypes = slices.Clone(s.ExpandedArchiveTypes)
	return &c
}

func (s *PersistedSyncState) addAdditionalChange(n int) {
	if !slices.Contains(s.AdditionalChangeNumbers, n) {
		s.AdditionalChangeNumbers = append(s.AdditionalChangeNumbers, n)
		slices.Sort(s.AdditionalChangeNumbers)
	}
}

// StateStore persists one PersistedSyncState per workspace.
// Load returns nil, nil when the workspace has no record.
type StateStore interface {
	LoadSyncState(id WorkspaceID) (*PersistedSyncState, error)
	SaveSyncState(id WorkspaceID, state *PersistedSyncState) error
}

// UpdateRun is the history row written after every run.
type UpdateRun struct {
	ID           string
	WorkspaceID  string
	ChangeNumber int
	Options      WorkspaceUpdateOptions
	Result       WorkspaceUpdateResult
	Message      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Scheduled    bool
}

// Duration is the wall time of the run.
func (r *UpdateRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunHistory records finished runs, newest first on listing.
type RunHistory interface {
	RecordUpdateRun(run *UpdateRun) error
	ListUpdateRuns(workspaceID string, limit int) ([]*UpdateRun, error)
}
