package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"wsync-go/internal/archive"
	"wsync-go/internal/encryption"
	"wsync-go/internal/process"
	"wsync-go/internal/wsync"
)

// StartUpdate truncates the sync log and starts uctx. Run output is copied
// to view, when non-nil, until the run completes.
func (a *WsyncApp) StartUpdate(ctx context.Context, uctx *wsync.WorkspaceUpdateContext, view io.Writer) (<-chan wsync.UpdateCompletion, error) {
	if a.workspace.IsBusy() {
		return nil, wsync.ErrBusy
	}
	if err := a.syncLog.Reset(); err != nil {
		a.logger.Warn("sync log not reset", "error", err)
	}
	a.output.attach(view)
	done, err := a.workspace.StartUpdate(ctx, uctx)
	if err != nil {
		a.output.attach(nil)
		return nil, err
	}
	a.logger.Info("update started", "parameters", describeOptions(uctx.ChangeNumber, uctx.Options))

	out := make(chan wsync.UpdateCompletion, 1)
	go func() {
		defer close(out)
		c, ok := <-done
		a.output.attach(nil)
		if ok {
			out <- c
		}
	}()
	return out, nil
}

// RunUpdate starts uctx and waits for it to finish.
func (a *WsyncApp) RunUpdate(ctx context.Context, uctx *wsync.WorkspaceUpdateContext, view io.Writer) (wsync.UpdateCompletion, error) {
	done, err := a.StartUpdate(ctx, uctx, view)
	if err != nil {
		return wsync.UpdateCompletion{}, err
	}
	c, ok := <-done
	if !ok {
		return wsync.UpdateCompletion{Context: uctx, Result: wsync.ResultCanceled}, nil
	}
	return c, nil
}

// ResolveLatest refreshes the catalog and returns the newest change of kind
// that has an archive of every type in requiredArchives.
func (a *WsyncApp) ResolveLatest(ctx context.Context, kind wsync.LatestChangeType, requiredArchives []string) (int, error) {
	if err := a.catalog.Refresh(ctx); err != nil {
		return 0, fmt.Errorf("refreshing changes: %w", err)
	}
	change, ok := a.catalog.FindChangeToSync(kind, requiredArchives)
	if !ok {
		return 0, fmt.Errorf("no change matches %s", kind)
	}
	return change, nil
}

// ChangeInfo is one row of the change listing.
type ChangeInfo struct {
	wsync.Change
	Verdict     wsync.Verdict
	ArchivePath string
	Current     bool
}

// Changes refreshes the catalog and lists up to limit changes, newest first.
func (a *WsyncApp) Changes(ctx context.Context, limit int) ([]ChangeInfo, error) {
	if limit > 0 {
		a.catalog.SetPendingMaxChanges(limit)
	}
	if err := a.catalog.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refreshing changes: %w", err)
	}

	current := a.workspace.CurrentChangeNumber()
	changes := a.catalog.GetChanges()
	infos := make([]ChangeInfo, 0, len(changes))
	for _, c := range changes {
		info := ChangeInfo{Change: c, Current: c.Number == current}
		if typ, ok := a.catalog.TryGetChangeType(c.Number); ok {
			info.Type = typ
		}
		info.Verdict, _ = a.catalog.TryGetVerdict(c.Number)
		info.ArchivePath, _ = a.catalog.TryGetArchivePathForChangeNumber(c.Number)
		infos = append(infos, info)
	}
	return infos, nil
}

// StatusReport is the persisted state of the workspace.
type StatusReport struct {
	Workspace wsync.WorkspaceID
	State     *wsync.PersistedSyncState
	SyncLog   string
}

// Status returns the workspace's persisted state.
func (a *WsyncApp) Status() StatusReport {
	return StatusReport{
		Workspace: a.workspace.ID(),
		State:     a.workspace.State(),
		SyncLog:   a.syncLog.Path(),
	}
}

// History returns the most recent update runs.
func (a *WsyncApp) History(limit int) ([]*wsync.UpdateRun, error) {
	return a.db.ListUpdateRuns(a.workspace.ID().String(), limit)
}

// SetVerdict records a CI verdict for change.
func (a *WsyncApp) SetVerdict(change int, verdict wsync.Verdict) error {
	if change <= 0 {
		return fmt.Errorf("invalid change number %d", change)
	}
	if err := a.db.SetVerdict(change, verdict); err != nil {
		return err
	}
	a.logger.Info("verdict set", "change", change, "verdict", verdict.String())
	return nil
}

// Steps returns the merged build steps of the project.
func (a *WsyncApp) Steps() ([]wsync.BuildStep, error) {
	defaults, _, err := a.defaultSteps(0)
	if err != nil {
		return nil, err
	}
	return wsync.MergeBuildSteps(defaults, a.cfg.BuildSteps), nil
}

// Tools returns the steps offered as tools.
func (a *WsyncApp) Tools() ([]wsync.BuildStep, error) {
	steps, err := a.Steps()
	if err != nil {
		return nil, err
	}
	var tools []wsync.BuildStep
	for _, s := range steps {
		if s.ShowAsTool {
			tools = append(tools, s)
		}
	}
	return tools, nil
}

// FindStep resolves a step by UUID or, failing that, by its description.
func (a *WsyncApp) FindStep(ref string) (wsync.BuildStep, error) {
	steps, err := a.Steps()
	if err != nil {
		return wsync.BuildStep{}, err
	}
	if id, err := uuid.Parse(ref); err == nil {
		for _, s := range steps {
			if s.UniqueID == id {
				return s, nil
			}
		}
		return wsync.BuildStep{}, fmt.Errorf("no build step with id %s", id)
	}
	var matches []wsync.BuildStep
	for _, s := range steps {
		if strings.EqualFold(s.Description, ref) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return wsync.BuildStep{}, fmt.Errorf("no build step named %q", ref)
	case 1:
		return matches[0], nil
	}
	return wsync.BuildStep{}, fmt.Errorf("%d build steps are named %q, use the id", len(matches), ref)
}

// UpdateStep applies edit to one step and stores the difference from the
// project defaults as the config's build step overrides. The caller saves
// the config.
func (a *WsyncApp) UpdateStep(id uuid.UUID, edit func(*wsync.BuildStep)) error {
	defaults, _, err := a.defaultSteps(0)
	if err != nil {
		return err
	}
	steps := wsync.MergeBuildSteps(defaults, a.cfg.BuildSteps)
	found := false
	for i := range steps {
		if steps[i].UniqueID == id {
			edit(&steps[i])
			steps[i].UniqueID = id
			found = true
		}
	}
	if !found {
		steps = append(steps, wsync.BuildStep{
			UniqueID:                 id,
			Type:                     wsync.BuildStepOther,
			EstimatedDurationMinutes: 1,
			ShowAsTool:               true,
			OrderIndex:               len(steps),
		})
		edit(&steps[len(steps)-1])
	}
	a.cfg.BuildSteps = wsync.DiffBuildSteps(defaults, steps)
	return nil
}

// RemoveStep drops the user's overrides for id. Custom steps disappear,
// default steps revert to their defaults.
func (a *WsyncApp) RemoveStep(id uuid.UUID) bool {
	kept := a.cfg.BuildSteps[:0]
	removed := false
	for _, o := range a.cfg.BuildSteps {
		if o.UniqueID == id {
			removed = true
			continue
		}
		kept = append(kept, o)
	}
	a.cfg.BuildSteps = kept
	return removed
}

// PublishArchive uploads an archive for a change. With a non-empty recipient
// the archive is encrypted to that age public key instead of the configured keys.
func (a *WsyncApp) PublishArchive(ctx context.Context, req archive.PublishRequest, recipient string) (*archive.Manifest, error) {
	var enc encryption.Encryptor
	switch {
	case recipient != "":
		r, err := encryption.NewRecipientEncryptor(recipient)
		if err != nil {
			return nil, err
		}
		enc = r
	case a.keys != nil:
		if !a.keys.IsConfigured() {
			return nil, fmt.Errorf("archive keys are not set up, run 'wsync keys init' first")
		}
		enc = a.keys
	}
	if req.Type == "" {
		req.Type = wsync.EditorArchiveType
	}
	m, err := archive.NewPublisher(a.store, enc, a.log).Publish(ctx, req)
	if err != nil {
		return nil, err
	}
	a.logger.Info("archive published", "type", m.Type, "change", m.Change, "key", m.Key, "encrypted", m.Encrypted)
	return m, nil
}

// LaunchEditor starts the editor on the project and does not wait for it.
func (a *WsyncApp) LaunchEditor() error {
	vars := a.variables(a.workspace.CurrentChangeNumber(), 0, nil)
	exe := vars["EditorExe"]
	var args []string
	if project := vars["ProjectFile"]; project != "" {
		args = append(args, project)
	}
	if extra := a.cfg.Workspace.Variables["EditorArgs"]; extra != "" {
		more, err := process.SplitArguments(wsync.ExpandVariables(extra, vars))
		if err != nil {
			return fmt.Errorf("parsing EditorArgs: %w", err)
		}
		args = append(args, more...)
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = a.cfg.Workspace.LocalRoot
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting editor: %w", err)
	}
	a.logger.Info("editor started", "exe", exe, "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}
