package wsync_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"

	"wsync-go/internal/wsync"
)

func TestNewWorkspaceUpdateContext_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  wsync.UpdateContextParams
		wantErr bool
	}{
		{
			name:   "sync to change",
			params: wsync.UpdateContextParams{ChangeNumber: 100, Options: wsync.OptionSync},
		},
		{
			name:   "build without change",
			params: wsync.UpdateContextParams{Options: wsync.OptionBuild},
		},
		{
			name:    "sync without change",
			params:  wsync.UpdateContextParams{Options: wsync.OptionSync},
			wantErr: true,
		},
		{
			name:    "custom tool without build",
			params:  wsync.UpdateContextParams{Options: wsync.OptionGenerateProjectFiles, CustomToolStepIDs: []uuid.UUID{toolStepID}},
			wantErr: true,
		},
		{
			name:    "invalid flags",
			params:  wsync.UpdateContextParams{ChangeNumber: 1, Options: wsync.OptionSync | wsync.OptionSyncSingleChange},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wsync.NewWorkspaceUpdateContext(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWorkspaceUpdateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, wsync.ErrInvalidOptions) {
				t.Errorf("NewWorkspaceUpdateContext() error = %v, want ErrInvalidOptions", err)
			}
		})
	}

	t.Run("bad filter", func(t *testing.T) {
		_, err := wsync.NewWorkspaceUpdateContext(wsync.UpdateContextParams{
			ChangeNumber: 1, Options: wsync.OptionSync, SyncFilter: []string{"+"},
		})
		if err == nil {
			t.Error("NewWorkspaceUpdateContext() expected error for empty filter rule")
		}
	})
}

func TestNewWorkspaceUpdateContext_Snapshot(t *testing.T) {
	vars := map[string]string{"ProjectDir": "/work/Game"}
	defaults := defaultSteps()
	args := "-one"
	overrides := []wsync.BuildStepOverride{{UniqueID: compileStepID, Arguments: &args}}
	receipts := []string{"$(ProjectDir)/Binaries/Game.target"}

	uctx, err := wsync.NewWorkspaceUpdateContext(wsync.UpdateContextParams{
		ChangeNumber:           100,
		Options:                wsync.OptionSync | wsync.OptionBuild,
		DefaultBuildSteps:      defaults,
		UserBuildStepOverrides: overrides,
		Variables:              vars,
		ReceiptPaths:           receipts,
	})
	if err != nil {
		t.Fatalf("NewWorkspaceUpdateContext() error = %v", err)
	}

	vars["ProjectDir"] = "/elsewhere"
	defaults[0].Target = "Changed"
	args = "-two"
	receipts[0] = "changed"

	if uctx.Variables["ProjectDir"] != "/work/Game" {
		t.Errorf("Variables changed with caller map: %v", uctx.Variables)
	}
	if uctx.ReceiptPaths[0] != "$(ProjectDir)/Binaries/Game.target" {
		t.Errorf("ReceiptPaths changed with caller slice: %v", uctx.ReceiptPaths)
	}
	steps := uctx.BuildSteps()
	if steps[0].Target != "UE4Editor" {
		t.Errorf("BuildSteps()[0].Target = %q, want snapshot value", steps[0].Target)
	}
	if steps[0].Arguments != "-one" {
		t.Errorf("BuildSteps()[0].Arguments = %q, want snapshot value %q", steps[0].Arguments, "-one")
	}
}

func TestNewWorkspaceUpdateContext_FilterOptions(t *testing.T) {
	t.Run("skip shaders", func(t *testing.T) {
		uctx, err := wsync.NewWorkspaceUpdateContext(wsync.UpdateContextParams{
			ChangeNumber: 1, Options: wsync.OptionSync | wsync.OptionSkipShaders,
		})
		if err != nil {
			t.Fatalf("NewWorkspaceUpdateContext() error = %v", err)
		}
		if uctx.SyncFilter.Includes("Engine/Shaders/Common.usf") {
			t.Error("SkipShaders filter includes a .usf file")
		}
		if !uctx.SyncFilter.Includes("Engine/Source/Core.cpp") {
			t.Error("SkipShaders filter excludes a .cpp file")
		}
	})

	t.Run("content only", func(t *testing.T) {
		uctx, err := wsync.NewWorkspaceUpdateContext(wsync.UpdateContextParams{
			ChangeNumber: 1,
			Options:      wsync.OptionSync | wsync.OptionSyncArchives | wsync.OptionContentOnly,
			SyncFilter:   []string{"-Samples/..."},
		})
		if err != nil {
			t.Fatalf("NewWorkspaceUpdateContext() error = %v", err)
		}
		for _, p := range []string{"Game/Source/Actor.cpp", "Game/Game.uproject", "Game/Source/Game.Build.cs"} {
			if uctx.SyncFilter.Includes(p) {
				t.Errorf("ContentOnly filter includes %q", p)
			}
		}
		if !uctx.SyncFilter.Includes("Game/Content/Map.umap") {
			t.Error("ContentOnly filter excludes content")
		}
		if uctx.SyncFilter.Includes("Samples/Map.umap") {
			t.Error("ContentOnly filter dropped the user's rules")
		}
	})
}

func TestWorkspaceUpdateContext_Clobbers(t *testing.T) {
	uctx, err := wsync.NewWorkspaceUpdateContext(wsync.UpdateContextParams{ChangeNumber: 1, Options: wsync.OptionSync})
	if err != nil {
		t.Fatalf("NewWorkspaceUpdateContext() error = %v", err)
	}
	if len(uctx.ClobberFiles()) != 0 {
		t.Errorf("ClobberFiles() = %v, want empty", uctx.ClobberFiles())
	}

	uctx.ApproveClobber("Game/Config/DefaultGame.ini")
	uctx.ApproveClobber("Game/Config/DefaultEngine.ini")
	clobbers := uctx.ClobberFiles()
	clobbers["mutated"] = true
	if _, ok := uctx.ClobberFiles()["mutated"]; ok {
		t.Error("ClobberFiles() returned the internal map")
	}
	if pending := uctx.PendingClobbers(); len(pending) != 0 {
		t.Errorf("PendingClobbers() = %v, want none", pending)
	}
	got := uctx.ClobberFiles()
	want := []string{"Game/Config/DefaultEngine.ini", "Game/Config/DefaultGame.ini"}
	var keys []string
	for k := range got {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, want) {
		t.Errorf("ClobberFiles() keys = %v, want %v", keys, want)
	}
}
