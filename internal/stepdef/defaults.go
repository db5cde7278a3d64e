package stepdef

import (
	"fmt"

	"github.com/google/uuid"

	"wsync-go/internal/wsync"
)

// IDs of the built-in steps. User overrides refer to these.
var (
	HeaderToolStepID    = uuid.MustParse("01f66060-73fa-4cc8-9cb3-e217fbba954e")
	EditorStepID        = uuid.MustParse("f097ff61-c916-4058-8391-35b46c3173d5")
	ShaderWorkerStepID  = uuid.MustParse("c6e633a1-956f-4ad3-bc95-6d06d131e7b4")
	LightmassStepID     = uuid.MustParse("24ffd88c-7901-4899-9696-ae1066b4b6e8")
	CrashReporterStepID = uuid.MustParse("fff20379-06bf-4205-8a3e-c53427736688")
)

const (
	DefaultEditorTarget  = "UE4Editor"
	DefaultEditorConfig  = "Development"
	DefaultBuildPlatform = "Win64"
)

// EditorOptions shapes the built-in steps.
type EditorOptions struct {
	// Target is the editor target name, e.g. GameEditor.
	Target        string
	Configuration string
	Platform      string
	// Precompiled disables the compile steps by default because the
	// editor comes from an archive.
	Precompiled bool
}

func compileStep(id uuid.UUID, order int, target, platform, config string, minutes int, normal bool) wsync.BuildStep {
	return wsync.BuildStep{
		UniqueID:                 id,
		OrderIndex:               order,
		Description:              fmt.Sprintf("Compile %s", target),
		StatusText:               fmt.Sprintf("Compiling %s...", target),
		EstimatedDurationMinutes: minutes,
		Type:                     wsync.BuildStepCompile,
		Target:                   target,
		Platform:                 platform,
		Configuration:            config,
		NormalSync:               normal,
	}
}

// DefaultSteps returns the built-in compile steps for the editor and its
// helper programs.
func DefaultSteps(opts EditorOptions) []wsync.BuildStep {
	target := opts.Target
	if target == "" {
		target = DefaultEditorTarget
	}
	config := opts.Configuration
	if config == "" || opts.Precompiled {
		config = DefaultEditorConfig
	}
	platform := opts.Platform
	if platform == "" {
		platform = DefaultBuildPlatform
	}
	normal := !opts.Precompiled
	return []wsync.BuildStep{
		compileStep(HeaderToolStepID, 0, "UnrealHeaderTool", platform, "Development", 1, normal),
		compileStep(EditorStepID, 1, target, platform, config, 10, normal),
		compileStep(ShaderWorkerStepID, 2, "ShaderCompileWorker", platform, "Development", 1, normal),
		compileStep(LightmassStepID, 3, "UnrealLightmass", platform, "Development", 1, normal),
		compileStep(CrashReporterStepID, 4, "CrashReportClient", platform, "Shipping", 1, normal),
	}
}

// ProjectSteps returns the built-in steps with the steps file at path layered
// on top. An empty path means no steps file.
func ProjectSteps(opts EditorOptions, path string) ([]wsync.BuildStep, map[string]string, error) {
	defaults := DefaultSteps(opts)
	if path == "" {
		return defaults, nil, nil
	}
	f, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return f.Apply(defaults), f.Variables, nil
}
