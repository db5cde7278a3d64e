package wsync_test

import (
	"errors"
	"testing"

	"wsync-go/internal/wsync"
)

func TestWorkspaceUpdateOptions_String(t *testing.T) {
	tests := []struct {
		opts wsync.WorkspaceUpdateOptions
		want string
	}{
		{0, "None"},
		{wsync.OptionSync, "Sync"},
		{wsync.OptionSync | wsync.OptionBuild, "Sync|Build"},
		{wsync.OptionSyncArchives | wsync.OptionGenerateProjectFiles, "GenerateProjectFiles|SyncArchives"},
	}
	for _, tt := range tests {
		if got := tt.opts.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		parsed, err := wsync.ParseOptions(tt.want)
		if err != nil {
			t.Fatalf("ParseOptions(%q) error = %v", tt.want, err)
		}
		if parsed != tt.opts {
			t.Errorf("ParseOptions(%q) = %v, want %v", tt.want, parsed, tt.opts)
		}
	}

	if _, err := wsync.ParseOptions("Sync|Deploy"); err == nil {
		t.Error("ParseOptions() expected error for unknown flag")
	}
}

func TestWorkspaceUpdateOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    wsync.WorkspaceUpdateOptions
		wantErr bool
	}{
		{"empty", 0, true},
		{"sync", wsync.OptionSync, false},
		{"sync and build", wsync.OptionSync | wsync.OptionBuild | wsync.OptionRunAfterSync, false},
		{"sync and single change", wsync.OptionSync | wsync.OptionSyncSingleChange, true},
		{"run without build", wsync.OptionSync | wsync.OptionRunAfterSync, true},
		{"incremental without build", wsync.OptionSync | wsync.OptionUseIncrementalBuilds, true},
		{"open solution after generate", wsync.OptionGenerateProjectFiles | wsync.OptionOpenSolutionAfterSync, false},
		{"open solution alone", wsync.OptionSync | wsync.OptionOpenSolutionAfterSync, true},
		{"scheduled without sync", wsync.OptionBuild | wsync.OptionScheduledBuild, true},
		{"auto resolve single change", wsync.OptionSyncSingleChange | wsync.OptionAutoResolveChanges, false},
		{"auto resolve without sync", wsync.OptionBuild | wsync.OptionAutoResolveChanges, true},
		{"skip shaders without sync", wsync.OptionBuild | wsync.OptionSkipShaders, true},
		{"content only", wsync.OptionSync | wsync.OptionContentOnly | wsync.OptionSyncArchives, false},
		{"content only with build", wsync.OptionSync | wsync.OptionContentOnly | wsync.OptionSyncArchives | wsync.OptionBuild, true},
		{"content only without archives", wsync.OptionSync | wsync.OptionContentOnly, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, wsync.ErrInvalidOptions) {
				t.Errorf("Validate() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestWorkspaceUpdateResult(t *testing.T) {
	all := []wsync.WorkspaceUpdateResult{
		wsync.ResultUnknown, wsync.ResultCanceled, wsync.ResultFailedToSync, wsync.ResultFilesToResolve,
		wsync.ResultFilesToClobber, wsync.ResultFailedToCompile,
		wsync.ResultFailedToCompileWithCleanWorkspace, wsync.ResultSuccess,
	}
	for _, r := range all {
		text, err := r.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var got wsync.WorkspaceUpdateResult
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != r {
			t.Errorf("UnmarshalText(%q) = %v, want %v", text, got, r)
		}
	}

	failures := map[wsync.WorkspaceUpdateResult]bool{
		wsync.ResultSuccess:        false,
		wsync.ResultCanceled:       false,
		wsync.ResultUnknown:        false,
		wsync.ResultFailedToSync:   true,
		wsync.ResultFilesToClobber: true,
	}
	for r, want := range failures {
		if got := r.IsFailure(); got != want {
			t.Errorf("%v.IsFailure() = %v, want %v", r, got, want)
		}
	}
}

func TestClassifyChangeType(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  wsync.ChangeType
	}{
		{"source file", []string{"//depot/Game/Source/Game/Actor.cpp"}, wsync.ChangeTypeCode},
		{"header among assets", []string{"//depot/Game/Content/Map.umap", "//depot/Game/Source/Game.h"}, wsync.ChangeTypeCode},
		{"build rules", []string{"//depot/Game/Source/Game.Build.cs"}, wsync.ChangeTypeCode},
		{"shader", []string{"//depot/Engine/Shaders/Common.USF"}, wsync.ChangeTypeCode},
		{"assets only", []string{"//depot/Game/Content/Hero.uasset", "//depot/Game/Config/Game.ini"}, wsync.ChangeTypeContent},
		{"no files", nil, wsync.ChangeTypeContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wsync.ClassifyChangeType(tt.files); got != tt.want {
				t.Errorf("ClassifyChangeType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	for _, v := range []wsync.Verdict{wsync.VerdictNone, wsync.VerdictGood, wsync.VerdictMixed, wsync.VerdictBad} {
		got, err := wsync.ParseVerdict(v.String())
		if err != nil {
			t.Fatalf("ParseVerdict(%q) error = %v", v.String(), err)
		}
		if got != v {
			t.Errorf("ParseVerdict(%q) = %v, want %v", v.String(), got, v)
		}
	}
	if _, err := wsync.ParseVerdict("starred"); err == nil {
		t.Error("ParseVerdict() expected error for unknown verdict")
	}
}

func TestExpandVariables(t *testing.T) {
	vars := map[string]string{"ProjectDir": "/work/game/Game", "EditorTarget": "GameEditor"}

	got := wsync.ExpandVariables("$(ProjectDir)/Binaries/$(EditorTarget)-$(Platform).target", vars)
	want := "/work/game/Game/Binaries/GameEditor-$(Platform).target"
	if got != want {
		t.Errorf("ExpandVariables() = %q, want %q", got, want)
	}

	unresolved := wsync.UnresolvedVariables(got + " $(Platform) $(Config)")
	if len(unresolved) != 2 || unresolved[0] != "Config" || unresolved[1] != "Platform" {
		t.Errorf("UnresolvedVariables() = %v, want [Config Platform]", unresolved)
	}
}
