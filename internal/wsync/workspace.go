package wsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrBusy is returned by StartUpdate while another run is in flight.
var ErrBusy = errors.New("workspace update already in progress")

// outputTailLines bounds the process output quoted in failure messages.
const outputTailLines = 50

// WorkspaceDeps are the collaborators a Workspace drives. States is
// required; the rest are checked when a run needs them.
type WorkspaceDeps struct {
	VCS      VCS
	Runner   ProcessRunner
	Archives ArchiveInstaller
	Resolver ArchiveResolver
	States   StateStore
	History  RunHistory
	Files    FilesystemManager
	Output   io.Writer
	Logger   Logger
	Clock    Clock
	IDs      IDGenerator

	// OnUpdateComplete is called on the run goroutine after bookkeeping.
	OnUpdateComplete func(UpdateCompletion)
}

// UpdateCompletion is delivered once per run. Err reports a bookkeeping
// failure; it never changes Result.
type UpdateCompletion struct {
	Context *WorkspaceUpdateContext
	Result  WorkspaceUpdateResult
	Message string
	Err     error
}

// Workspace runs update contexts against one local workspace, one at a time.
type Workspace struct {
	id      WorkspaceID
	deps    WorkspaceDeps
	logger  Logger
	metrics *updateMetrics

	mu       sync.Mutex
	busy     bool
	cancel   context.CancelFunc
	canceled bool
	pending  int
	progress Progress
	state    *PersistedSyncState
}

// NewWorkspace loads the persisted state for id.
func NewWorkspace(id WorkspaceID, deps WorkspaceDeps) (*Workspace, error) {
	if deps.States == nil {
		return nil, errors.New("workspace requires a state store")
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}

	state, err := deps.States.LoadSyncState(id)
	if err != nil {
		return nil, fmt.Errorf("loading sync state: %w", err)
	}
	if state == nil {
		state = NewPersistedSyncState()
	}

	metrics, err := newUpdateMetrics()
	if err != nil {
		deps.Logger.Warn("update metrics unavailable", "error", err)
	}

	return &Workspace{
		id:      id,
		deps:    deps,
		logger:  deps.Logger,
		metrics: metrics,
		state:   state,
		pending: state.CurrentChangeNumber,
	}, nil
}

// ID returns the workspace identity.
func (w *Workspace) ID() WorkspaceID { return w.id }

// IsBusy reports whether a run is in flight.
func (w *Workspace) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// CurrentProgress returns the status of the active run.
func (w *Workspace) CurrentProgress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

// CurrentChangeNumber is the change the workspace is known to be synced to,
// or -1 while a sync is in progress or was interrupted.
func (w *Workspace) CurrentChangeNumber() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.CurrentChangeNumber
}

// PendingChangeNumber is the change being synced to while busy, and the
// current change otherwise.
func (w *Workspace) PendingChangeNumber() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return w.pending
	}
	return w.state.CurrentChangeNumber
}

// LastBuiltChangeNumber is the change of the last successful build.
func (w *Workspace) LastBuiltChangeNumber() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.LastBuiltChangeNumber
}

// State returns a copy of the persisted state. While busy it may be stale.
func (w *Workspace) State() *PersistedSyncState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Clone()
}

// StartUpdate begins a run in the background. The returned channel receives
// exactly one completion and is then closed. Canceling ctx cancels the run.
func (w *Workspace) StartUpdate(ctx context.Context, uctx *WorkspaceUpdateContext) (<-chan UpdateCompletion, error) {
	if uctx == nil {
		return nil, errors.New("nil update context")
	}

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.busy = true
	w.cancel = cancel
	w.canceled = false
	w.pending = w.state.CurrentChangeNumber
	if uctx.Options.Has(OptionSync) {
		w.pending = uctx.ChangeNumber
	}
	w.progress = Progress{Message: "Starting...", Indeterminate: true}
	w.mu.Unlock()

	uctx.setStartTime(w.deps.Clock.Now())
	done := make(chan UpdateCompletion, 1)
	go w.run(runCtx, cancel, uctx, done)
	return done, nil
}

// CancelUpdate asks the active run to stop. The run finishes as Canceled
// once the external call it is blocked in returns.
func (w *Workspace) CancelUpdate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy && w.cancel != nil {
		w.canceled = true
		w.cancel()
	}
}

func (w *Workspace) isCanceled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canceled
}

func (w *Workspace) setProgress(p Progress) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progress = p
}

func (w *Workspace) run(ctx context.Context, cancel context.CancelFunc, uctx *WorkspaceUpdateContext, done chan<- UpdateCompletion) {
	defer cancel()
	started := uctx.StartTime()

	ctx, span := tracer.Start(ctx, "wsync.update", trace.WithAttributes(
		attribute.String("workspace", w.id.String()),
		attribute.Int("change", uctx.ChangeNumber),
		attribute.String("options", uctx.Options.String()),
	))

	r := &updateRun{w: w, uctx: uctx, out: newOutputSink(w.deps.Output, outputTailLines)}
	w.logger.Info("update started", "change", uctx.ChangeNumber, "options", uctx.Options.String())
	result, message := r.execute(ctx)
	result, message = settleCanceled(result, message, r.interrupted(ctx))

	finished := w.deps.Clock.Now()
	err := w.record(r, result, message, started, finished)
	if err != nil {
		w.logger.Error("recording update result", "error", err)
	}

	span.SetAttributes(attribute.String("result", result.String()))
	if result.IsFailure() {
		span.SetStatus(codes.Error, message)
	}
	span.End()
	w.metrics.recordRun(context.WithoutCancel(ctx), uctx.Options, result, finished.Sub(started))
	w.logger.Info("update finished", "change", uctx.ChangeNumber, "result", result.String(), "duration", finished.Sub(started).String())

	w.mu.Lock()
	w.busy = false
	w.cancel = nil
	w.progress = Progress{}
	w.pending = w.state.CurrentChangeNumber
	w.mu.Unlock()

	completion := UpdateCompletion{Context: uctx, Result: result, Message: message, Err: err}
	done <- completion
	close(done)
	if w.deps.OnUpdateComplete != nil {
		w.deps.OnUpdateComplete(completion)
	}
}

// settleCanceled reports an interrupted run as Canceled. A run that already
// succeeded keeps its result since its changes to the workspace are in place.
func settleCanceled(result WorkspaceUpdateResult, message string, interrupted bool) (WorkspaceUpdateResult, string) {
	if interrupted && result != ResultSuccess {
		return ResultCanceled, ""
	}
	return result, message
}

// record applies the run's outcome to the persisted state, saves it and
// appends a history row.
func (w *Workspace) record(r *updateRun, result WorkspaceUpdateResult, message string, started, finished time.Time) error {
	uctx := r.uctx
	opts := uctx.Options

	w.mu.Lock()
	st := w.state.Clone()
	st.LastSyncChangeNumber = uctx.ChangeNumber
	st.LastSyncResult = result
	if result == ResultCanceled {
		st.LastSyncResultMessage = ""
		st.LastSyncTime.Valid = false
		st.LastSyncTime.Time = time.Time{}
		st.LastSyncDurationSeconds = 0
	} else {
		st.LastSyncResultMessage = message
		st.LastSyncTime.Time = finished
		st.LastSyncTime.Valid = true
		st.LastSyncDurationSeconds = int(finished.Sub(started) / time.Second)
	}
	if result == ResultSuccess {
		if opts.Has(OptionBuild) && len(uctx.CustomToolStepIDs) == 0 {
			built := st.CurrentChangeNumber
			if built <= 0 {
				built = uctx.ChangeNumber
			}
			st.LastBuiltChangeNumber = built
		}
		if opts.Has(OptionSyncSingleChange) {
			st.addAdditionalChange(uctx.ChangeNumber)
		}
		if opts.Has(OptionSyncArchives) {
			st.ExpandedArchiveTypes = r.expandedArchiveTypes(st.ExpandedArchiveTypes)
		}
	}
	w.state = st
	saved := st.Clone()
	w.mu.Unlock()

	var errs []error
	if err := w.deps.States.SaveSyncState(w.id, saved); err != nil {
		errs = append(errs, fmt.Errorf("saving sync state: %w", err))
	}
	if w.deps.History != nil {
		run := &UpdateRun{
			ID:           w.deps.IDs.New(),
			WorkspaceID:  w.id.String(),
			ChangeNumber: uctx.ChangeNumber,
			Options:      opts,
			Result:       result,
			Message:      message,
			StartedAt:    started,
			FinishedAt:   finished,
			Scheduled:    opts.Has(OptionScheduledBuild),
		}
		if err := w.deps.History.RecordUpdateRun(run); err != nil {
			errs = append(errs, fmt.Errorf("recording update run: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (w *Workspace) persistSyncIntent(change int) error {
	w.mu.Lock()
	w.state.CurrentChangeNumber = -1
	w.state.LastSyncChangeNumber = change
	snapshot := w.state.Clone()
	w.mu.Unlock()
	return w.deps.States.SaveSyncState(w.id, snapshot)
}

func (w *Workspace) markSynced(change int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.CurrentChangeNumber = change
	w.state.AdditionalChangeNumbers = nil
}

// depotRelative maps a depot path inside the workspace stream to a
// workspace-relative path.
func (w *Workspace) depotRelative(depotPath string) (string, bool) {
	if i := strings.IndexByte(depotPath, '#'); i >= 0 {
		depotPath = depotPath[:i]
	}
	root := strings.TrimSuffix(strings.TrimSuffix(w.id.DepotPath, "..."), "/") + "/"
	if len(depotPath) <= len(root) || !strings.EqualFold(depotPath[:len(root)], root) {
		return "", false
	}
	return depotPath[len(root):], true
}

// guard converts a panic in a collaborator into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

type resolvedArchive struct {
	archiveType string
	path        string
}

type plannedStep struct {
	step   BuildStep
	spec   ProcessSpec
	weight int
}

// updateRun is the per-run state. A retried context gets a fresh updateRun.
type updateRun struct {
	w         *Workspace
	uctx      *WorkspaceUpdateContext
	out       *outputSink
	archives  []resolvedArchive
	installed []string
	plan      []plannedStep
	clean     bool

	syncPhase, archivePhase, buildPhase phaseSpan
}

func (r *updateRun) interrupted(ctx context.Context) bool {
	return r.w.isCanceled() || ctx.Err() != nil
}

func (r *updateRun) setProgress(message string, fraction float64, indeterminate bool) {
	r.w.setProgress(Progress{Message: message, Fraction: fraction, Indeterminate: indeterminate})
}

func (r *updateRun) execute(ctx context.Context) (WorkspaceUpdateResult, string) {
	opts := r.uctx.Options
	r.setProgress("Preparing...", 0, true)

	if msg := r.preflight(); msg != "" {
		r.out.Println(msg)
		return ResultFailedToSync, msg
	}
	r.planPhases()
	if opts.Has(OptionSync) {
		if err := r.w.persistSyncIntent(r.uctx.ChangeNumber); err != nil {
			return ResultFailedToSync, fmt.Sprintf("Failed to record sync intent: %v", err)
		}
	}
	if opts.Has(OptionSync) || opts.Has(OptionBuild) {
		r.deleteReceipts()
	}
	if r.interrupted(ctx) {
		return ResultCanceled, ""
	}

	if opts.Has(OptionSync) || opts.Has(OptionSyncSingleChange) {
		if result, msg := r.sync(ctx); result != ResultSuccess {
			return result, msg
		}
	}
	if opts.Has(OptionSyncArchives) {
		if result, msg := r.installArchives(ctx); result != ResultSuccess {
			return result, msg
		}
	}
	if len(r.plan) > 0 {
		if result, msg := r.build(ctx); result != ResultSuccess {
			return result, msg
		}
	}
	r.setProgress("Done", 1, false)
	return ResultSuccess, ""
}

// planPhases gives each phase that will run an equal, consecutive share of
// the progress bar.
func (r *updateRun) planPhases() {
	opts := r.uctx.Options
	installs := 0
	for _, a := range r.archives {
		if a.path != "" {
			installs++
		}
	}
	spans := splitPhases(
		opts.Has(OptionSync) || opts.Has(OptionSyncSingleChange),
		opts.Has(OptionSyncArchives) && installs > 0,
		len(r.plan) > 0,
	)
	r.syncPhase, r.archivePhase, r.buildPhase = spans[0], spans[1], spans[2]
}

// preflight validates everything that can be checked without touching the
// workspace. It returns a failure message, or "" to proceed.
func (r *updateRun) preflight() string {
	opts := r.uctx.Options
	deps := r.w.deps
	if (opts.Has(OptionSync) || opts.Has(OptionSyncSingleChange)) && deps.VCS == nil {
		return "No version control client is configured"
	}

	if opts.Has(OptionSyncArchives) {
		needInstaller := false
		for _, req := range r.uctx.Archives {
			p := req.DepotPath
			if p == "" && deps.Resolver != nil {
				p, _ = deps.Resolver.TryGetArchivePath(req.Type, r.uctx.ChangeNumber)
			}
			if p == "" && req.Required {
				return fmt.Sprintf("There are no compiled %s binaries for change %d", req.Type, r.uctx.ChangeNumber)
			}
			if p != "" {
				needInstaller = true
			}
			r.archives = append(r.archives, resolvedArchive{archiveType: req.Type, path: p})
		}
		if needInstaller && deps.Archives == nil {
			return "No archive installer is configured"
		}
	}

	if opts.Has(OptionBuild) || opts.Has(OptionGenerateProjectFiles) {
		plan, err := r.planSteps()
		if err != nil {
			return err.Error()
		}
		if len(plan) > 0 && deps.Runner == nil {
			return "No process runner is configured"
		}
		r.plan = plan
	}
	return ""
}

func checkExecutable(description, exe string) error {
	if strings.TrimSpace(exe) == "" {
		return fmt.Errorf("no executable is configured for %q", description)
	}
	if unresolved := UnresolvedVariables(exe); len(unresolved) > 0 {
		return fmt.Errorf("cannot resolve $(%s) in the executable for %q", unresolved[0], description)
	}
	return nil
}

func (r *updateRun) planSteps() ([]plannedStep, error) {
	vars := r.uctx.Variables
	var plan []plannedStep

	if r.uctx.Options.Has(OptionGenerateProjectFiles) {
		step := BuildStep{
			Description:              "Generate project files",
			StatusText:               "Generating project files...",
			EstimatedDurationMinutes: 1,
			Type:                     BuildStepOther,
		}
		spec := ProcessSpec{
			Executable: ExpandVariables(r.uctx.ProjectFilesTool, vars),
			Arguments:  ExpandVariables(r.uctx.ProjectFilesArgs, vars),
			WorkingDir: ExpandVariables(r.uctx.WorkingDir, vars),
		}
		if err := checkExecutable(step.Description, spec.Executable); err != nil {
			return nil, err
		}
		plan = append(plan, plannedStep{step: step, spec: spec, weight: 1})
	}

	if r.uctx.Options.Has(OptionBuild) {
		selected, err := SelectBuildSteps(r.uctx.BuildSteps(), r.uctx.CustomToolStepIDs)
		if err != nil {
			return nil, err
		}
		for _, step := range selected {
			spec, err := r.commandFor(step)
			if err != nil {
				return nil, err
			}
			plan = append(plan, plannedStep{step: step, spec: spec, weight: step.Weight()})
		}
	}
	return plan, nil
}

// commandFor forms the process invocation of one build step.
func (r *updateRun) commandFor(step BuildStep) (ProcessSpec, error) {
	vars := r.uctx.Variables
	expand := func(s string) string { return ExpandVariables(s, vars) }
	spec := ProcessSpec{
		WorkingDir:   expand(step.WorkingDir),
		UseLogWindow: step.UseLogWindow,
	}
	if spec.WorkingDir == "" {
		spec.WorkingDir = expand(r.uctx.WorkingDir)
	}

	var args []string
	switch step.Type {
	case BuildStepCompile:
		if step.Target == "" {
			return spec, fmt.Errorf("build step %q has no compile target", step.Description)
		}
		spec.Executable = expand(r.uctx.CompileTool)
		args = append(args, expand(step.Target), expand(step.Platform), expand(step.Configuration))
		if !r.uctx.Options.Has(OptionUseIncrementalBuilds) {
			args = append(args, "-Rebuild")
		}
	case BuildStepCook:
		spec.Executable = expand(r.uctx.CookTool)
		args = append(args, expand(step.FileName), "-run=cook", "-targetplatform="+expand(step.Platform))
	default:
		spec.Executable = expand(step.FileName)
	}
	if a := expand(step.Arguments); a != "" {
		args = append(args, a)
	}
	spec.Arguments = strings.Join(slices.DeleteFunc(args, func(s string) bool { return s == "" }), " ")

	if err := checkExecutable(step.Description, spec.Executable); err != nil {
		return spec, err
	}
	return spec, nil
}

func (r *updateRun) deleteReceipts() {
	if r.w.deps.Files == nil {
		return
	}
	for _, p := range r.uctx.ReceiptPaths {
		p = ExpandVariables(p, r.uctx.Variables)
		if err := r.w.deps.Files.Remove(p); err != nil {
			r.w.logger.Warn("deleting build receipt", "path", p, "error", err)
		}
	}
}

func (r *updateRun) sync(ctx context.Context) (WorkspaceUpdateResult, string) {
	ctx, span := tracer.Start(ctx, "wsync.sync")
	defer span.End()

	vcs := r.w.deps.VCS
	n := r.uctx.ChangeNumber
	single := r.uctx.Options.Has(OptionSyncSingleChange)
	filter := r.uctx.SyncFilter

	if single {
		r.setProgress(fmt.Sprintf("Syncing change %d...", n), r.syncPhase.at(0), true)
	} else {
		r.setProgress(fmt.Sprintf("Syncing to %d...", n), r.syncPhase.at(0), true)
	}

	req := SyncRequest{
		ChangeNumber: n,
		SingleChange: single,
		ForceFiles:   r.uctx.approvedClobbers(),
		AutoResolve:  r.uctx.Options.Has(OptionAutoResolveChanges),
		Output:       r.out,
	}

	if !filter.IsEmpty() {
		var listed []string
		err := guard(func() (err error) {
			if single {
				var depotFiles []string
				depotFiles, err = vcs.DescribeChange(ctx, n)
				for _, f := range depotFiles {
					if rel, ok := r.w.depotRelative(f); ok {
						listed = append(listed, rel)
					}
				}
				return err
			}
			listed, err = vcs.PreviewSync(ctx, n)
			return err
		})
		if r.interrupted(ctx) {
			return ResultCanceled, ""
		}
		if err != nil {
			span.RecordError(err)
			return ResultFailedToSync, fmt.Sprintf("Failed to list files for change %d: %v", n, err)
		}
		req.Files = filter.Apply(listed)
		if req.Files == nil {
			req.Files = []string{}
		}
		r.out.Println(fmt.Sprintf("Sync filter selected %d of %d files", len(req.Files), len(listed)))
	}

	outcome := SyncOutcome{Status: SyncUpToDate}
	if req.Files == nil || len(req.Files) > 0 {
		err := guard(func() (err error) {
			outcome, err = vcs.Sync(ctx, req)
			return err
		})
		if r.interrupted(ctx) {
			return ResultCanceled, ""
		}
		if err != nil {
			span.RecordError(err)
			return ResultFailedToSync, fmt.Sprintf("Failed to sync files: %v", err)
		}
	}
	span.SetAttributes(attribute.String("outcome", outcome.Status.String()), attribute.Int("files", len(outcome.Files)))

	switch outcome.Status {
	case SyncFilesToResolve:
		return ResultFilesToResolve, fmt.Sprintf("%d file(s) need to be resolved", len(outcome.Files))
	case SyncFilesToClobber:
		r.uctx.recordClobbers(outcome.Files)
		return ResultFilesToClobber, fmt.Sprintf("%d writable file(s) would be overwritten", len(outcome.Files))
	}

	if !single {
		r.w.markSynced(n)
		r.clean = r.isCleanWorkspace(ctx)
	}
	return ResultSuccess, ""
}

func (r *updateRun) isCleanWorkspace(ctx context.Context) bool {
	if r.uctx.Options.Has(OptionUseIncrementalBuilds) {
		return false
	}
	var opened []string
	err := guard(func() (err error) {
		opened, err = r.w.deps.VCS.OpenedFiles(ctx)
		return err
	})
	if err != nil {
		r.w.logger.Warn("listing opened files", "error", err)
		return false
	}
	return len(opened) == 0
}

func (r *updateRun) installArchives(ctx context.Context) (WorkspaceUpdateResult, string) {
	ctx, span := tracer.Start(ctx, "wsync.archives")
	defer span.End()

	total := 0
	for _, a := range r.archives {
		if a.path != "" {
			total++
		}
	}
	for _, a := range r.archives {
		if a.path == "" {
			continue
		}
		r.setProgress(fmt.Sprintf("Installing %s archive...", a.archiveType), r.archivePhase.at(float64(len(r.installed))/float64(total)), false)
		r.out.Println(fmt.Sprintf("Installing %s archive %s", a.archiveType, a.path))
		err := guard(func() error {
			return r.w.deps.Archives.Install(ctx, a.archiveType, a.path, r.out)
		})
		if r.interrupted(ctx) {
			return ResultCanceled, ""
		}
		if err != nil {
			span.RecordError(err)
			return ResultFailedToSync, fmt.Sprintf("Failed to install %s archive %s: %v", a.archiveType, a.path, err)
		}
		r.installed = append(r.installed, a.archiveType)
	}
	return ResultSuccess, ""
}

// expandedArchiveTypes drops requested types that had no archive and adds
// the installed ones.
func (r *updateRun) expandedArchiveTypes(previous []string) []string {
	out := slices.Clone(previous)
	for _, a := range r.archives {
		if a.path == "" {
			out = slices.DeleteFunc(out, func(t string) bool { return t == a.archiveType })
		}
	}
	for _, t := range r.installed {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

func (r *updateRun) build(ctx context.Context) (WorkspaceUpdateResult, string) {
	weights := make([]int, len(r.plan))
	for i, ps := range r.plan {
		weights[i] = ps.weight
	}
	progress := newStepProgress(weights)

	for _, ps := range r.plan {
		status := ps.step.StatusText
		if status == "" {
			status = ps.step.Description
		}
		r.setProgress(status, r.buildPhase.at(progress.fraction()), false)
		r.out.Reset()
		r.out.Println(fmt.Sprintf("> %s %s", ps.spec.Executable, ps.spec.Arguments))

		stepCtx, span := tracer.Start(ctx, "wsync.build_step", trace.WithAttributes(
			attribute.String("step", ps.step.Description),
			attribute.String("step_id", ps.step.UniqueID.String()),
			attribute.String("type", ps.step.Type.String()),
		))
		var res ProcessResult
		err := guard(func() (err error) {
			res, err = r.w.deps.Runner.Run(stepCtx, ps.spec, r.out)
			return err
		})
		span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		if r.interrupted(ctx) {
			return ResultCanceled, ""
		}
		if err != nil || res.ExitCode != 0 {
			r.w.metrics.recordStepFailure(ctx, ps.step)
			var msg string
			if err != nil {
				msg = fmt.Sprintf("Failed to run %s: %v", ps.step.Description, err)
			} else {
				output := tailLines(res.Output, outputTailLines)
				if output == "" {
					output = r.out.Tail()
				}
				msg = fmt.Sprintf("%s failed with exit code %d\n%s", ps.step.Description, res.ExitCode, output)
			}
			if r.clean {
				return ResultFailedToCompileWithCleanWorkspace, msg
			}
			return ResultFailedToCompile, msg
		}
		progress.complete(ps.weight)
	}
	r.setProgress("Build complete", r.buildPhase.at(1), false)
	return ResultSuccess, ""
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
