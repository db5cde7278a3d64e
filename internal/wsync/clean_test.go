package wsync_test

import (
	"path/filepath"
	"slices"
	"testing"

	"wsync-go/internal/wsync"
)

func TestIsSafeToDelete(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"Game/Binaries/Win64/Game.dll", true},
		{"Game/Intermediate/Build/x.txt", true},
		{`Engine\Plugins\Foo\BINARIES\Foo.dll`, true},
		{"Game/Source/Module.obj", true},
		{"Game/Source/Module.PDB", true},
		{"Game/Saved/Config/Editor.ini", false},
		{"Game/Content/New.uasset", false},
		{"Binaries.txt", false},
	}
	for _, tt := range tests {
		if got := wsync.IsSafeToDelete(tt.path); got != tt.want {
			t.Errorf("IsSafeToDelete(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func newTestCleanTree() *wsync.CleanTree {
	return wsync.NewCleanTree("/work", []string{
		"Game/Binaries/Win64/Game.dll",
		"Game/Binaries/Win64/Game.pdb",
		"Game/Saved/Logs/Game.log",
		"Game/Saved/Config/Editor.ini",
		"Game/Intermediate/Build/Makefile",
		"notes.txt",
	})
}

func TestCleanTree_InitialSelection(t *testing.T) {
	tree := newTestCleanTree()

	root := tree.RootFolder()
	if root.NumFiles != 6 {
		t.Errorf("root NumFiles = %d, want 6", root.NumFiles)
	}
	if root.NumSelected != 3 {
		t.Errorf("root NumSelected = %d, want 3", root.NumSelected)
	}

	tests := []struct {
		path string
		want wsync.CleanSelection
	}{
		{"Game", wsync.SelectionSome},
		{"Game/Binaries", wsync.SelectionAll},
		{"Game/Saved", wsync.SelectionNone},
		{"Game/Intermediate/Build/Makefile", wsync.SelectionAll},
		{"notes.txt", wsync.SelectionNone},
	}
	for _, tt := range tests {
		if got := tree.Selection(tt.path); got != tt.want {
			t.Errorf("Selection(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCleanTree_Toggle(t *testing.T) {
	t.Run("file toggles update ancestors", func(t *testing.T) {
		tree := newTestCleanTree()

		if err := tree.ToggleFile("Game/Saved/Logs/Game.log", true); err != nil {
			t.Fatalf("ToggleFile() error = %v", err)
		}
		if got := tree.Selection("Game/Saved/Logs"); got != wsync.SelectionAll {
			t.Errorf("Selection(Logs) = %v, want all", got)
		}
		if got := tree.Selection("Game/Saved"); got != wsync.SelectionSome {
			t.Errorf("Selection(Saved) = %v, want some", got)
		}
		if tree.RootFolder().NumSelected != 4 {
			t.Errorf("root NumSelected = %d, want 4", tree.RootFolder().NumSelected)
		}

		// toggling twice is a no-op
		if err := tree.ToggleFile("Game/Saved/Logs/Game.log", true); err != nil {
			t.Fatalf("ToggleFile() error = %v", err)
		}
		if tree.RootFolder().NumSelected != 4 {
			t.Errorf("root NumSelected = %d after repeat, want 4", tree.RootFolder().NumSelected)
		}
	})

	t.Run("folder toggles cascade", func(t *testing.T) {
		tree := newTestCleanTree()

		if err := tree.ToggleFolder("Game", true); err != nil {
			t.Fatalf("ToggleFolder() error = %v", err)
		}
		if got := tree.Selection("Game/Saved/Config"); got != wsync.SelectionAll {
			t.Errorf("Selection(Config) = %v, want all", got)
		}
		if tree.RootFolder().NumSelected != 5 {
			t.Errorf("root NumSelected = %d, want 5", tree.RootFolder().NumSelected)
		}

		if err := tree.ToggleFolder("Game/Binaries", false); err != nil {
			t.Fatalf("ToggleFolder() error = %v", err)
		}
		if got := tree.Selection("Game"); got != wsync.SelectionSome {
			t.Errorf("Selection(Game) = %v, want some", got)
		}
		if tree.RootFolder().NumSelected != 3 {
			t.Errorf("root NumSelected = %d, want 3", tree.RootFolder().NumSelected)
		}
	})

	t.Run("unknown paths", func(t *testing.T) {
		tree := newTestCleanTree()
		if err := tree.ToggleFile("missing.txt", true); err == nil {
			t.Error("ToggleFile() expected error for unknown file")
		}
		if err := tree.ToggleFolder("Missing", true); err == nil {
			t.Error("ToggleFolder() expected error for unknown folder")
		}
	})
}

func TestCleanTree_Plan(t *testing.T) {
	tree := newTestCleanTree()
	if err := tree.ToggleFile("Game/Saved/Logs/Game.log", true); err != nil {
		t.Fatalf("ToggleFile() error = %v", err)
	}

	plan := tree.Plan()

	wantFiles := []string{
		filepath.Join("/work", "Game/Binaries/Win64/Game.dll"),
		filepath.Join("/work", "Game/Binaries/Win64/Game.pdb"),
		filepath.Join("/work", "Game/Intermediate/Build/Makefile"),
		filepath.Join("/work", "Game/Saved/Logs/Game.log"),
	}
	gotFiles := slices.Clone(plan.Files)
	slices.Sort(gotFiles)
	if !slices.Equal(gotFiles, wantFiles) {
		t.Errorf("Plan().Files = %v, want %v", gotFiles, wantFiles)
	}

	for _, dir := range []string{"Game", "Game/Saved"} {
		if slices.Contains(plan.Directories, filepath.Join("/work", dir)) {
			t.Errorf("Plan().Directories contains partially selected %q", dir)
		}
	}
	for _, dir := range []string{"Game/Binaries", "Game/Binaries/Win64", "Game/Saved/Logs", "Game/Intermediate"} {
		if !slices.Contains(plan.Directories, filepath.Join("/work", dir)) {
			t.Errorf("Plan().Directories missing fully selected %q", dir)
		}
	}

	// children are listed before their parents
	win64 := slices.Index(plan.Directories, filepath.Join("/work", "Game/Binaries/Win64"))
	binaries := slices.Index(plan.Directories, filepath.Join("/work", "Game/Binaries"))
	if win64 > binaries {
		t.Errorf("Plan().Directories = %v, want Win64 before Binaries", plan.Directories)
	}

	t.Run("root is never deleted", func(t *testing.T) {
		tree := newTestCleanTree()
		if err := tree.ToggleFolder("", true); err != nil {
			t.Fatalf("ToggleFolder(root) error = %v", err)
		}
		plan := tree.Plan()
		if slices.Contains(plan.Directories, "/work") {
			t.Errorf("Plan().Directories = %v, includes the workspace root", plan.Directories)
		}
		if len(plan.Files) != 6 {
			t.Errorf("len(Plan().Files) = %d, want 6", len(plan.Files))
		}
	})
}

// Every directory in a plan must have all of its files selected, whatever
// sequence of toggles produced it.
func TestCleanTree_PlanOnlyFullySelectedFolders(t *testing.T) {
	toggles := []struct {
		path   string
		folder bool
		on     bool
	}{
		{"Game", true, true},
		{"Game/Saved/Config/Editor.ini", false, false},
		{"Game/Binaries/Win64/Game.pdb", false, false},
		{"Game/Binaries", true, true},
		{"notes.txt", false, true},
		{"Game/Intermediate", true, false},
	}

	tree := newTestCleanTree()
	for i, tg := range toggles {
		var err error
		if tg.folder {
			err = tree.ToggleFolder(tg.path, tg.on)
		} else {
			err = tree.ToggleFile(tg.path, tg.on)
		}
		if err != nil {
			t.Fatalf("toggle %d error = %v", i, err)
		}

		plan := tree.Plan()
		selected := map[string]bool{}
		for _, f := range plan.Files {
			selected[f] = true
		}
		var check func(f *wsync.CleanFolder)
		check = func(f *wsync.CleanFolder) {
			all := true
			var walk func(f *wsync.CleanFolder)
			walk = func(f *wsync.CleanFolder) {
				for _, file := range f.Files() {
					if !selected[filepath.Join("/work", file.Path)] {
						all = false
					}
				}
				for _, child := range f.Folders() {
					walk(child)
				}
			}
			walk(f)
			if f.Path != "" && slices.Contains(plan.Directories, filepath.Join("/work", f.Path)) && !all {
				t.Errorf("after toggle %d: directory %q planned with unselected files", i, f.Path)
			}
			for _, child := range f.Folders() {
				check(child)
			}
		}
		check(tree.RootFolder())
	}
}
