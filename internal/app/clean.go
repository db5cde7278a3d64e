package app

import (
	"context"
	"fmt"

	"wsync-go/internal/fs"
	"wsync-go/internal/wsync"
)

// ScanUntracked builds the clean tree from the files the server does not
// know about, leaving out the clean ignore patterns.
func (a *WsyncApp) ScanUntracked(ctx context.Context) (*wsync.CleanTree, error) {
	paths, err := a.vcs.FindUntrackedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding untracked files: %w", err)
	}
	root := a.cfg.Workspace.LocalRoot
	matcher, err := fs.LoadIgnoreMatcher(root, a.cfg.Workspace.CleanIgnore)
	if err != nil {
		return nil, fmt.Errorf("loading clean ignore patterns: %w", err)
	}
	kept := matcher.Filter(paths)
	a.logger.Info("workspace scanned", "untracked", len(paths), "ignored", len(paths)-len(kept))
	return wsync.NewCleanTree(root, kept), nil
}

// CleanFailure is a path that could not be deleted.
type CleanFailure struct {
	Path string
	Err  error
}

// CleanReport summarizes an executed deletion plan.
type CleanReport struct {
	FilesDeleted int
	DirsDeleted  int
	// DirsKept are directories that still held files after the plan ran.
	DirsKept []string
	Failed   []CleanFailure
}

// Clean deletes the files of plan, then its directories deepest first.
func (a *WsyncApp) Clean(plan wsync.DeletionPlan) CleanReport {
	var report CleanReport
	failed := map[string]bool{}
	for _, f := range plan.Files {
		if err := a.files.Remove(f); err != nil {
			a.logger.Warn("clean: file not deleted", "path", f, "error", err)
			report.Failed = append(report.Failed, CleanFailure{Path: f, Err: err})
			failed[f] = true
			continue
		}
		report.FilesDeleted++
	}
	for _, d := range plan.Directories {
		if err := a.files.RemoveDir(d); err != nil {
			a.logger.Debug("clean: directory kept", "path", d, "error", err)
			report.DirsKept = append(report.DirsKept, d)
			continue
		}
		report.DirsDeleted++
	}
	a.logger.Info("workspace cleaned", "files", report.FilesDeleted, "directories", report.DirsDeleted, "failed", len(report.Failed))
	return report
}
