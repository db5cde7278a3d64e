package wsync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOptions wraps every option combination rejected by Validate.
var ErrInvalidOptions = errors.New("invalid update options")

func invalidOptions(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}

// WorkspaceUpdateOptions selects the phases of an update run.
type WorkspaceUpdateOptions uint32

const (
	OptionSync WorkspaceUpdateOptions = 1 << iota
	OptionSyncSingleChange
	OptionAutoResolveChanges
	OptionGenerateProjectFiles
	OptionSyncArchives
	OptionBuild
	OptionUseIncrementalBuilds
	OptionScheduledBuild
	OptionRunAfterSync
	OptionOpenSolutionAfterSync
	OptionSkipShaders
	OptionContentOnly
)

var optionNames = []struct {
	flag WorkspaceUpdateOptions
	name string
}{
	{OptionSync, "Sync"},
	{OptionSyncSingleChange, "SyncSingleChange"},
	{OptionAutoResolveChanges, "AutoResolveChanges"},
	{OptionGenerateProjectFiles, "GenerateProjectFiles"},
	{OptionSyncArchives, "SyncArchives"},
	{OptionBuild, "Build"},
	{OptionUseIncrementalBuilds, "UseIncrementalBuilds"},
	{OptionScheduledBuild, "ScheduledBuild"},
	{OptionRunAfterSync, "RunAfterSync"},
	{OptionOpenSolutionAfterSync, "OpenSolutionAfterSync"},
	{OptionSkipShaders, "SkipShaders"},
	{OptionContentOnly, "ContentOnly"},
}

// Has reports whether every bit of flag is set.
func (o WorkspaceUpdateOptions) Has(flag WorkspaceUpdateOptions) bool {
	return flag != 0 && o&flag == flag
}

func (o WorkspaceUpdateOptions) String() string {
	if o == 0 {
		return "None"
	}
	var names []string
	for _, opt := range optionNames {
		if o.Has(opt.flag) {
			names = append(names, opt.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseOptions parses a "|" or "," separated list of option names.
func ParseOptions(s string) (WorkspaceUpdateOptions, error) {
	var opts WorkspaceUpdateOptions
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, "None") {
			continue
		}
		found := false
		for _, opt := range optionNames {
			if strings.EqualFold(opt.name, part) {
				opts |= opt.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown update option %q", part)
		}
	}
	return opts, nil
}

// Validate rejects option combinations that cannot run together.
func (o WorkspaceUpdateOptions) Validate() error {
	if o == 0 {
		return invalidOptions("no update options selected")
	}
	if o.Has(OptionSync) && o.Has(OptionSyncSingleChange) {
		return invalidOptions("Sync and SyncSingleChange cannot be combined")
	}
	for _, flag := range []WorkspaceUpdateOptions{OptionRunAfterSync, OptionUseIncrementalBuilds} {
		if o.Has(flag) && !o.Has(OptionBuild) {
			return invalidOptions("%s requires Build", flag)
		}
	}
	if o.Has(OptionOpenSolutionAfterSync) && !o.Has(OptionBuild) && !o.Has(OptionGenerateProjectFiles) {
		return invalidOptions("OpenSolutionAfterSync requires Build or GenerateProjectFiles")
	}
	for _, flag := range []WorkspaceUpdateOptions{OptionScheduledBuild, OptionContentOnly} {
		if o.Has(flag) && !o.Has(OptionSync) {
			return invalidOptions("%s requires Sync", flag)
		}
	}
	syncing := o.Has(OptionSync) || o.Has(OptionSyncSingleChange)
	for _, flag := range []WorkspaceUpdateOptions{OptionAutoResolveChanges, OptionSkipShaders} {
		if o.Has(flag) && !syncing {
			return invalidOptions("%s requires Sync or SyncSingleChange", flag)
		}
	}
	if o.Has(OptionContentOnly) {
		if o.Has(OptionBuild) {
			return invalidOptions("ContentOnly cannot be combined with Build")
		}
		if !o.Has(OptionSyncArchives) {
			return invalidOptions("ContentOnly requires SyncArchives")
		}
	}
	return nil
}
