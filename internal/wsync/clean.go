package wsync

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// CleanSelection is the tri-state selection of a folder.
type CleanSelection int

const (
	SelectionNone CleanSelection = iota
	SelectionSome
	SelectionAll
)

func (s CleanSelection) String() string {
	switch s {
	case SelectionSome:
		return "some"
	case SelectionAll:
		return "all"
	default:
		return "none"
	}
}

// IsSafeToDelete reports whether an untracked file is preselected for deletion.
func IsSafeToDelete(relativePath string) bool {
	p := "/" + strings.ToLower(strings.ReplaceAll(relativePath, "\\", "/"))
	if strings.Contains(p, "/binaries/") || strings.Contains(p, "/intermediate/") {
		return true
	}
	switch path.Ext(p) {
	case ".obj", ".pdb":
		return true
	}
	return false
}

// CleanFile is one untracked file.
type CleanFile struct {
	Name     string
	Path     string
	Selected bool
	parent   *CleanFolder
}

// CleanFolder aggregates the files below it. NumSelected and NumFiles count
// files in the whole subtree.
type CleanFolder struct {
	Name        string
	Path        string
	NumFiles    int
	NumSelected int
	parent      *CleanFolder
	folders     map[string]*CleanFolder
	files       map[string]*CleanFile
}

// Selection derives the folder's tri-state from its counts.
func (f *CleanFolder) Selection() CleanSelection {
	switch {
	case f.NumSelected == 0:
		return SelectionNone
	case f.NumSelected == f.NumFiles:
		return SelectionAll
	default:
		return SelectionSome
	}
}

// Folders returns the child folders sorted by name.
func (f *CleanFolder) Folders() []*CleanFolder {
	out := make([]*CleanFolder, 0, len(f.folders))
	for _, c := range f.folders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Files returns the direct child files sorted by name.
func (f *CleanFolder) Files() []*CleanFile {
	out := make([]*CleanFile, 0, len(f.files))
	for _, c := range f.files {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeletionPlan lists absolute paths to delete. Directories are ordered
// deepest first so each is empty by the time it is removed.
type DeletionPlan struct {
	Files       []string
	Directories []string
}

// CleanTree is the selection model over the untracked files of a workspace.
type CleanTree struct {
	Root string
	root *CleanFolder
}

func newCleanFolder(name, p string, parent *CleanFolder) *CleanFolder {
	return &CleanFolder{
		Name:    name,
		Path:    p,
		parent:  parent,
		folders: map[string]*CleanFolder{},
		files:   map[string]*CleanFile{},
	}
}

// NewCleanTree builds the tree from workspace-relative file paths and
// preselects the files IsSafeToDelete accepts.
func NewCleanTree(root string, relativePaths []string) *CleanTree {
	t := &CleanTree{Root: root, root: newCleanFolder("", "", nil)}
	for _, rel := range relativePaths {
		rel = strings.Trim(strings.ReplaceAll(rel, "\\", "/"), "/")
		if rel == "" {
			continue
		}
		parts := strings.Split(rel, "/")
		folder := t.root
		for i, name := range parts[:len(parts)-1] {
			child, ok := folder.folders[name]
			if !ok {
				child = newCleanFolder(name, strings.Join(parts[:i+1], "/"), folder)
				folder.folders[name] = child
			}
			folder = child
		}
		name := parts[len(parts)-1]
		if _, ok := folder.files[name]; ok {
			continue
		}
		file := &CleanFile{Name: name, Path: rel, parent: folder}
		folder.files[name] = file
		file.Selected = IsSafeToDelete(rel)
		selected := 0
		if file.Selected {
			selected = 1
		}
		for f := folder; f != nil; f = f.parent {
			f.NumFiles++
			f.NumSelected += selected
		}
	}
	return t
}

// RootFolder returns the workspace root node.
func (t *CleanTree) RootFolder() *CleanFolder { return t.root }

func (t *CleanTree) folder(p string) *CleanFolder {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	folder := t.root
	if p == "" {
		return folder
	}
	for _, name := range strings.Split(p, "/") {
		child, ok := folder.folders[name]
		if !ok {
			return nil
		}
		folder = child
	}
	return folder
}

func (t *CleanTree) file(p string) *CleanFile {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	dir, name := path.Split(p)
	folder := t.folder(dir)
	if folder == nil {
		return nil
	}
	return folder.files[name]
}

// ToggleFile selects or deselects one file and updates its ancestors.
func (t *CleanTree) ToggleFile(p string, selected bool) error {
	file := t.file(p)
	if file == nil {
		return fmt.Errorf("no untracked file %q", p)
	}
	if file.Selected == selected {
		return nil
	}
	file.Selected = selected
	delta := -1
	if selected {
		delta = 1
	}
	for f := file.parent; f != nil; f = f.parent {
		f.NumSelected += delta
	}
	return nil
}

// ToggleFolder applies a selection to every file below a folder.
func (t *CleanTree) ToggleFolder(p string, selected bool) error {
	folder := t.folder(p)
	if folder == nil {
		return fmt.Errorf("no untracked folder %q", p)
	}
	delta := setFolderSelection(folder, selected)
	for f := folder.parent; f != nil; f = f.parent {
		f.NumSelected += delta
	}
	return nil
}

func setFolderSelection(folder *CleanFolder, selected bool) int {
	before := folder.NumSelected
	for _, file := range folder.files {
		file.Selected = selected
	}
	for _, child := range folder.folders {
		setFolderSelection(child, selected)
	}
	if selected {
		folder.NumSelected = folder.NumFiles
	} else {
		folder.NumSelected = 0
	}
	return folder.NumSelected - before
}

// Selection returns the tri-state of a folder, or of a file as None/All.
func (t *CleanTree) Selection(p string) CleanSelection {
	if folder := t.folder(p); folder != nil {
		return folder.Selection()
	}
	if file := t.file(p); file != nil && file.Selected {
		return SelectionAll
	}
	return SelectionNone
}

// Plan lists the selected files and the folders whose every file is selected.
// The workspace root itself is never included.
func (t *CleanTree) Plan() DeletionPlan {
	var plan DeletionPlan
	var walk func(f *CleanFolder)
	walk = func(f *CleanFolder) {
		for _, child := range f.Folders() {
			walk(child)
		}
		for _, file := range f.Files() {
			if file.Selected {
				plan.Files = append(plan.Files, filepath.Join(t.Root, filepath.FromSlash(file.Path)))
			}
		}
		if f != t.root && f.NumFiles > 0 && f.NumSelected == f.NumFiles {
			plan.Directories = append(plan.Directories, filepath.Join(t.Root, filepath.FromSlash(f.Path)))
		}
	}
	walk(t.root)
	return plan
}
