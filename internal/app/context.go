package app

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"wsync-go/internal/fs"
	"wsync-go/internal/stepdef"
	"wsync-go/internal/wsync"
)

// UpdateRequest is what the CLI asks the engine to do.
type UpdateRequest struct {
	Change  int
	Options wsync.WorkspaceUpdateOptions
	ToolIDs []uuid.UUID
}

// hostPlatform is the engine platform name of this machine.
func hostPlatform() string {
	switch runtime.GOOS {
	case "windows":
		return "Win64"
	case "darwin":
		return "Mac"
	}
	return "Linux"
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// projectFile is the absolute path of the .uproject, or "" when none is set.
func (a *WsyncApp) projectFile() string {
	if a.cfg.Workspace.ProjectFile == "" {
		return ""
	}
	return filepath.Join(a.cfg.Workspace.LocalRoot, filepath.FromSlash(a.cfg.Workspace.ProjectFile))
}

func (a *WsyncApp) localPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.cfg.Workspace.LocalRoot, filepath.FromSlash(p))
}

// precompiled reports whether the editor comes from an archive for opts.
func (a *WsyncApp) precompiled(opts wsync.WorkspaceUpdateOptions) bool {
	if !opts.Has(wsync.OptionSyncArchives) {
		return false
	}
	for _, req := range a.cfg.Workspace.Archives {
		if req.Type == wsync.EditorArchiveType {
			return true
		}
	}
	return false
}

func (a *WsyncApp) editorOptions(opts wsync.WorkspaceUpdateOptions) stepdef.EditorOptions {
	ws := a.cfg.Workspace
	target := ws.EditorTarget
	if target == "" {
		if project := a.projectFile(); project != "" {
			target = strings.TrimSuffix(filepath.Base(project), filepath.Ext(project)) + "Editor"
		}
	}
	return stepdef.EditorOptions{
		Target:        target,
		Configuration: ws.EditorConfig,
		Platform:      hostPlatform(),
		Precompiled:   a.precompiled(opts),
	}
}

// defaultSteps returns the project's build steps before user overrides,
// with the variables the steps file defines.
func (a *WsyncApp) defaultSteps(opts wsync.WorkspaceUpdateOptions) ([]wsync.BuildStep, map[string]string, error) {
	steps, vars, err := stepdef.ProjectSteps(a.editorOptions(opts), a.localPath(a.cfg.Workspace.StepsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("loading build steps: %w", err)
	}
	return steps, vars, nil
}

// variables returns the $(Name) values for a run. Steps file variables
// override the built-in ones and config variables override both.
func (a *WsyncApp) variables(change int, opts wsync.WorkspaceUpdateOptions, fileVars map[string]string) map[string]string {
	root := a.cfg.Workspace.LocalRoot
	engineDir := filepath.Join(root, "Engine")
	platform := hostPlatform()
	editor := a.editorOptions(opts)

	config := editor.Configuration
	if config == "" || editor.Precompiled {
		config = stepdef.DefaultEditorConfig
	}
	target := editor.Target
	if target == "" {
		target = stepdef.DefaultEditorTarget
	}
	editorName := "UE4Editor"
	if config != stepdef.DefaultEditorConfig {
		editorName += "-" + platform + "-" + config
	}
	binaries := filepath.Join(engineDir, "Binaries", platform)

	vars := map[string]string{
		"BranchDir":    root,
		"EngineDir":    engineDir,
		"HostPlatform": platform,
		"EditorTarget": target,
		"EditorConfig": config,
		"EditorExe":    filepath.Join(binaries, executableName(editorName)),
		"EditorCmdExe": filepath.Join(binaries, executableName("UE4Editor-Cmd")),
		"DepotPath":    a.cfg.Workspace.DepotPath,
	}
	if change > 0 {
		vars["Change"] = strconv.Itoa(change)
	}
	if project := a.projectFile(); project != "" {
		vars["ProjectFile"] = project
		vars["ProjectDir"] = filepath.Dir(project)
		vars["ProjectName"] = strings.TrimSuffix(filepath.Base(project), filepath.Ext(project))
	}
	maps.Copy(vars, fileVars)
	maps.Copy(vars, a.cfg.Workspace.Variables)
	return vars
}

// syncFilter returns the configured filter lines followed by the filter file.
func (a *WsyncApp) syncFilter() ([]string, error) {
	lines := append([]string(nil), a.cfg.Workspace.SyncFilter...)
	if a.cfg.Workspace.SyncFilterFile == "" {
		return lines, nil
	}
	fromFile, err := fs.ReadPatternFile(a.localPath(a.cfg.Workspace.SyncFilterFile))
	if err != nil {
		return nil, fmt.Errorf("reading sync filter: %w", err)
	}
	return append(lines, fromFile...), nil
}

type tools struct {
	compile, cook, projectFiles, projectFilesArgs string
}

func (a *WsyncApp) tools() tools {
	ws := a.cfg.Workspace
	t := tools{
		compile:          ws.CompileTool,
		cook:             ws.CookTool,
		projectFiles:     ws.ProjectFilesTool,
		projectFilesArgs: ws.ProjectFilesArgs,
	}
	if t.compile == "" {
		if runtime.GOOS == "windows" {
			t.compile = "$(EngineDir)/Build/BatchFiles/Build.bat"
		} else {
			t.compile = "$(EngineDir)/Build/BatchFiles/" + hostPlatform() + "/Build.sh"
		}
	}
	if t.cook == "" {
		t.cook = "$(EditorCmdExe)"
	}
	if t.projectFiles == "" {
		if runtime.GOOS == "windows" {
			t.projectFiles = "$(BranchDir)/GenerateProjectFiles.bat"
		} else {
			t.projectFiles = "$(BranchDir)/GenerateProjectFiles.sh"
		}
	}
	if t.projectFilesArgs == "" && a.projectFile() != "" {
		t.projectFilesArgs = `-project="$(ProjectFile)" -game -engine`
	}
	return t
}

func (a *WsyncApp) receiptPaths() []string {
	if len(a.cfg.Workspace.ReceiptPaths) > 0 {
		return a.cfg.Workspace.ReceiptPaths
	}
	paths := []string{"$(EngineDir)/Binaries/$(HostPlatform)/$(EditorTarget).target"}
	if a.projectFile() != "" {
		paths = append(paths, "$(ProjectDir)/Binaries/$(HostPlatform)/$(EditorTarget).target")
	}
	return paths
}

// NewUpdateContext builds the context for req from the configuration. When
// archives are looked up by change the catalog is refreshed first; if that
// fails the cached changes are used.
func (a *WsyncApp) NewUpdateContext(ctx context.Context, req UpdateRequest) (*wsync.WorkspaceUpdateContext, error) {
	if a.resolvesArchives(req.Options) {
		if err := a.catalog.Refresh(ctx); err != nil {
			a.logger.Warn("archive lookup using cached changes", "error", err)
		}
	}
	return a.buildUpdateContext(req)
}

// resolvesArchives reports whether a run with opts needs the catalog to find
// its archives.
func (a *WsyncApp) resolvesArchives(opts wsync.WorkspaceUpdateOptions) bool {
	if !opts.Has(wsync.OptionSyncArchives) {
		return false
	}
	for _, r := range a.cfg.Workspace.Archives {
		if r.DepotPath == "" {
			return true
		}
	}
	return false
}

func (a *WsyncApp) buildUpdateContext(req UpdateRequest) (*wsync.WorkspaceUpdateContext, error) {
	steps, fileVars, err := a.defaultSteps(req.Options)
	if err != nil {
		return nil, err
	}
	filter, err := a.syncFilter()
	if err != nil {
		return nil, err
	}

	var archives []wsync.ArchiveRequest
	if req.Options.Has(wsync.OptionSyncArchives) {
		for _, r := range a.cfg.Workspace.Archives {
			archives = append(archives, wsync.ArchiveRequest{Type: r.Type, DepotPath: r.DepotPath, Required: r.Required})
		}
	}

	t := a.tools()
	return wsync.NewWorkspaceUpdateContext(wsync.UpdateContextParams{
		ChangeNumber:           req.Change,
		Options:                req.Options,
		SyncFilter:             filter,
		DefaultBuildSteps:      steps,
		UserBuildStepOverrides: a.cfg.BuildSteps,
		CustomToolStepIDs:      req.ToolIDs,
		Variables:              a.variables(req.Change, req.Options, fileVars),
		Archives:               archives,
		ReceiptPaths:           a.receiptPaths(),
		CompileTool:            t.compile,
		CookTool:               t.cook,
		ProjectFilesTool:       t.projectFiles,
		ProjectFilesArgs:       t.projectFilesArgs,
		WorkingDir:             a.cfg.Workspace.LocalRoot,
	})
}
