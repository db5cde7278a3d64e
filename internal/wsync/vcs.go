package wsync

import (
	"context"
	"io"
)

// ChangeSource lists submitted changes and the files they touch.
type ChangeSource interface {
	// GetChanges returns up to maxChanges submitted changes, newest first.
	// The returned changes have Type ChangeTypeUnknown.
	GetChanges(ctx context.Context, maxChanges int) ([]Change, error)
	DescribeChange(ctx context.Context, change int) ([]string, error)
}

// SyncStatus is the kind of outcome a VCS sync reports.
type SyncStatus int

const (
	SyncSucceeded SyncStatus = iota
	SyncUpToDate
	SyncFilesToResolve
	SyncFilesToClobber
)

func (s SyncStatus) String() string {
	switch s {
	case SyncSucceeded:
		return "Success"
	case SyncUpToDate:
		return "UpToDate"
	case SyncFilesToResolve:
		return "FilesToResolve"
	case SyncFilesToClobber:
		return "FilesToClobber"
	}
	return "SyncStatus(?)"
}

// SyncOutcome is the structured result of VCS.Sync. Files lists the paths
// that need resolving or would be clobbered.
type SyncOutcome struct {
	Status SyncStatus
	Files  []string
}

// SyncRequest describes one sync call. Paths are relative to the workspace
// root with forward slashes. A nil Files syncs the whole workspace. With
// SingleChange only the revisions submitted in ChangeNumber are synced.
type SyncRequest struct {
	ChangeNumber int
	SingleChange bool
	Files        []string
	ForceFiles   []string
	AutoResolve  bool
	Output       io.Writer
}

// VCS is the version control client the engine drives.
type VCS interface {
	ChangeSource
	// PreviewSync lists the workspace-relative paths a sync to change would update.
	PreviewSync(ctx context.Context, change int) ([]string, error)
	Sync(ctx context.Context, req SyncRequest) (SyncOutcome, error)
	// OpenedFiles lists files currently open for edit in the workspace.
	OpenedFiles(ctx context.Context) ([]string, error)
	// FindUntrackedFiles lists workspace-relative paths not known to the server.
	FindUntrackedFiles(ctx context.Context) ([]string, error)
}

// ArchiveIndex answers whether a prebuilt archive was published for a change.
type ArchiveIndex interface {
	GetArchiveManifest(ctx context.Context, change int, archiveType string) (path string, found bool, err error)
}

// VerdictSource supplies CI verdicts for changes. Changes without a verdict
// are omitted from the result.
type VerdictSource interface {
	GetVerdicts(ctx context.Context, changes []int) (map[int]Verdict, error)
}

// ArchiveResolver maps a change to its effective archive path.
type ArchiveResolver interface {
	TryGetArchivePath(archiveType string, change int) (string, bool)
}

// ArchiveInstaller fetches and unpacks an archive into the workspace.
type ArchiveInstaller interface {
	Install(ctx context.Context, archiveType, path string, output io.Writer) error
}

// ProcessSpec is one external program invocation.
type ProcessSpec struct {
	Executable   string
	Arguments    string
	WorkingDir   string
	UseLogWindow bool
}

// ProcessResult is what a finished process reported.
type ProcessResult struct {
	ExitCode int
	Output   string
}

// ProcessRunner starts build step programs. A non-zero exit is reported in
// the result, not as an error; errors mean the process could not run.
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec, output io.Writer) (ProcessResult, error)
}
