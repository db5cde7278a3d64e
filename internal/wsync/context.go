package wsync

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EditorArchiveType is the archive type holding precompiled editor binaries.
const EditorArchiveType = "Editor"

// ArchiveRequest asks the engine to install one archive type. An empty
// DepotPath is resolved from the change catalog during pre-flight.
type ArchiveRequest struct {
	Type      string
	DepotPath string
	Required  bool
}

// UpdateContextParams is the driver's live input for one update run.
type UpdateContextParams struct {
	ChangeNumber           int
	Options                WorkspaceUpdateOptions
	SyncFilter             []string
	DefaultBuildSteps      []BuildStep
	UserBuildStepOverrides []BuildStepOverride
	CustomToolStepIDs      []uuid.UUID
	Variables              map[string]string
	Archives               []ArchiveRequest
	ReceiptPaths           []string

	// Tools used to form build step command lines.
	CompileTool      string
	CookTool         string
	ProjectFilesTool string
	ProjectFilesArgs string
	WorkingDir       string
}

// WorkspaceUpdateContext is the snapshot a single update run executes.
// Everything except ClobberFiles and StartTime is fixed at construction.
type WorkspaceUpdateContext struct {
	ChangeNumber           int
	Options                WorkspaceUpdateOptions
	SyncFilter             *SyncFilter
	DefaultBuildSteps      []BuildStep
	UserBuildStepOverrides []BuildStepOverride
	CustomToolStepIDs      []uuid.UUID
	Variables              map[string]string
	Archives               []ArchiveRequest
	ReceiptPaths           []string
	CompileTool            string
	CookTool               string
	ProjectFilesTool       string
	ProjectFilesArgs       string
	WorkingDir             string

	mu           sync.Mutex
	clobberFiles map[string]bool
	startTime    time.Time
}

// NewWorkspaceUpdateContext validates params and copies every mutable input.
func NewWorkspaceUpdateContext(params UpdateContextParams) (*WorkspaceUpdateContext, error) {
	opts := params.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(params.CustomToolStepIDs) > 0 && !opts.Has(OptionBuild) {
		return nil, invalidOptions("custom tool steps require Build")
	}
	if (opts.Has(OptionSync) || opts.Has(OptionSyncSingleChange)) && params.ChangeNumber <= 0 {
		return nil, invalidOptions("sync requires a positive change number, got %d", params.ChangeNumber)
	}

	filter, err := ParseSyncFilter(params.SyncFilter)
	if err != nil {
		return nil, fmt.Errorf("parsing sync filter: %w", err)
	}
	if opts.Has(OptionSkipShaders) {
		filter = filter.WithExcludes("*.usf", "*.ush")
	}
	if opts.Has(OptionContentOnly) {
		var patterns []string
		for _, ext := range CodeExtensions {
			patterns = append(patterns, "*"+ext)
		}
		filter = filter.WithExcludes(patterns...)
	}

	steps := slices.Clone(params.DefaultBuildSteps)
	overrides := make([]BuildStepOverride, len(params.UserBuildStepOverrides))
	for i, o := range params.UserBuildStepOverrides {
		overrides[i] = cloneOverride(o)
	}

	return &WorkspaceUpdateContext{
		ChangeNumber:           params.ChangeNumber,
		Options:                opts,
		SyncFilter:             filter,
		DefaultBuildSteps:      steps,
		UserBuildStepOverrides: overrides,
		CustomToolStepIDs:      slices.Clone(params.CustomToolStepIDs),
		Variables:              maps.Clone(params.Variables),
		Archives:               slices.Clone(params.Archives),
		ReceiptPaths:           slices.Clone(params.ReceiptPaths),
		CompileTool:            params.CompileTool,
		CookTool:               params.CookTool,
		ProjectFilesTool:       params.ProjectFilesTool,
		ProjectFilesArgs:       params.ProjectFilesArgs,
		WorkingDir:             params.WorkingDir,
		clobberFiles:           map[string]bool{},
	}, nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneOverride(o BuildStepOverride) BuildStepOverride {
	return BuildStepOverride{
		UniqueID:                 o.UniqueID,
		OrderIndex:               clonePtr(o.OrderIndex),
		Description:              clonePtr(o.Description),
		StatusText:               clonePtr(o.StatusText),
		EstimatedDurationMinutes: clonePtr(o.EstimatedDurationMinutes),
		Type:                     clonePtr(o.Type),
		Target:                   clonePtr(o.Target),
		Platform:                 clonePtr(o.Platform),
		Configuration:            clonePtr(o.Configuration),
		FileName:                 clonePtr(o.FileName),
		WorkingDir:               clonePtr(o.WorkingDir),
		Arguments:                clonePtr(o.Arguments),
		NormalSync:               clonePtr(o.NormalSync),
		ShowAsTool:               clonePtr(o.ShowAsTool),
		UseLogWindow:             clonePtr(o.UseLogWindow),
	}
}

// BuildSteps returns the effective steps after merging overrides.
func (c *WorkspaceUpdateContext) BuildSteps() []BuildStep {
	return MergeBuildSteps(c.DefaultBuildSteps, c.UserBuildStepOverrides)
}

// ClobberFiles returns a copy of the blocked files and whether each was approved.
func (c *WorkspaceUpdateContext) ClobberFiles() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.clobberFiles)
}

// PendingClobbers lists blocked files the user has not approved yet.
func (c *WorkspaceUpdateContext) PendingClobbers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for f, ok := range c.clobberFiles {
		if !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// ApproveClobber marks files as safe to overwrite on the next attempt.
func (c *WorkspaceUpdateContext) ApproveClobber(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		c.clobberFiles[p] = true
	}
}

// ApproveAllClobbers approves every file recorded so far.
func (c *WorkspaceUpdateContext) ApproveAllClobbers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := range c.clobberFiles {
		c.clobberFiles[p] = true
	}
}

// approvedClobbers lists files the user allowed the sync to overwrite.
func (c *WorkspaceUpdateContext) approvedClobbers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for f, ok := range c.clobberFiles {
		if ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// recordClobbers adds newly blocking files without touching earlier decisions.
func (c *WorkspaceUpdateContext) recordClobbers(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		if _, ok := c.clobberFiles[p]; !ok {
			c.clobberFiles[p] = false
		}
	}
}

// StartTime is when the most recent run of this context began.
func (c *WorkspaceUpdateContext) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime
}

func (c *WorkspaceUpdateContext) setStartTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = t
}
