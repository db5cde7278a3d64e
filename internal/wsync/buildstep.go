package wsync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// BuildStepType selects how a step's command line is formed.
type BuildStepType int

const (
	BuildStepCompile BuildStepType = iota
	BuildStepCook
	BuildStepOther
)

func (t BuildStepType) String() string {
	switch t {
	case BuildStepCompile:
		return "Compile"
	case BuildStepCook:
		return "Cook"
	case BuildStepOther:
		return "Other"
	}
	return fmt.Sprintf("BuildStepType(%d)", int(t))
}

// ParseBuildStepType accepts the names produced by String, case-insensitively.
func ParseBuildStepType(s string) (BuildStepType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compile":
		return BuildStepCompile, nil
	case "cook":
		return BuildStepCook, nil
	case "other":
		return BuildStepOther, nil
	}
	return BuildStepOther, fmt.Errorf("unknown build step type %q", s)
}

func (t BuildStepType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *BuildStepType) UnmarshalText(text []byte) error {
	parsed, err := ParseBuildStepType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// BuildStep is one external program invocation run after a sync or as a tool.
type BuildStep struct {
	UniqueID                 uuid.UUID
	OrderIndex               int
	Description              string
	StatusText               string
	EstimatedDurationMinutes int
	Type                     BuildStepType

	// Compile steps.
	Target        string
	Platform      string
	Configuration string

	// Cook and Other steps.
	FileName   string
	WorkingDir string

	Arguments    string
	NormalSync   bool
	ShowAsTool   bool
	UseLogWindow bool
}

// Weight is the step's share of the build phase progress bar.
func (s BuildStep) Weight() int {
	if s.EstimatedDurationMinutes < 1 {
		return 1
	}
	return s.EstimatedDurationMinutes
}

// BuildStepOverride holds the fields a user changed relative to a default step.
// A nil field falls back to the default's value.
type BuildStepOverride struct {
	UniqueID                 uuid.UUID      `toml:"id"`
	OrderIndex               *int           `toml:"order_index,omitempty"`
	Description              *string        `toml:"description,omitempty"`
	StatusText               *string        `toml:"status_text,omitempty"`
	EstimatedDurationMinutes *int           `toml:"estimated_duration_minutes,omitempty"`
	Type                     *BuildStepType `toml:"type,omitempty"`
	Target                   *string        `toml:"target,omitempty"`
	Platform                 *string        `toml:"platform,omitempty"`
	Configuration            *string        `toml:"configuration,omitempty"`
	FileName                 *string        `toml:"file_name,omitempty"`
	WorkingDir               *string        `toml:"working_dir,omitempty"`
	Arguments                *string        `toml:"arguments,omitempty"`
	NormalSync               *bool          `toml:"normal_sync,omitempty"`
	ShowAsTool               *bool          `toml:"show_as_tool,omitempty"`
	UseLogWindow             *bool          `toml:"use_log_window,omitempty"`
}

func diffField[T comparable](value T, def *BuildStep, defValue T) *T {
	if def != nil && value == defValue {
		return nil
	}
	v := value
	return &v
}

// ToConfigObject returns the fields of s that differ from def, or nil when
// nothing differs. With a nil def every field is emitted.
func (s BuildStep) ToConfigObject(def *BuildStep) *BuildStepOverride {
	var d BuildStep
	if def != nil {
		d = *def
	}
	o := &BuildStepOverride{
		UniqueID:                 s.UniqueID,
		OrderIndex:               diffField(s.OrderIndex, def, d.OrderIndex),
		Description:              diffField(s.Description, def, d.Description),
		StatusText:               diffField(s.StatusText, def, d.StatusText),
		EstimatedDurationMinutes: diffField(s.EstimatedDurationMinutes, def, d.EstimatedDurationMinutes),
		Type:                     diffField(s.Type, def, d.Type),
		Target:                   diffField(s.Target, def, d.Target),
		Platform:                 diffField(s.Platform, def, d.Platform),
		Configuration:            diffField(s.Configuration, def, d.Configuration),
		FileName:                 diffField(s.FileName, def, d.FileName),
		WorkingDir:               diffField(s.WorkingDir, def, d.WorkingDir),
		Arguments:                diffField(s.Arguments, def, d.Arguments),
		NormalSync:               diffField(s.NormalSync, def, d.NormalSync),
		ShowAsTool:               diffField(s.ShowAsTool, def, d.ShowAsTool),
		UseLogWindow:             diffField(s.UseLogWindow, def, d.UseLogWindow),
	}
	if def != nil && o.isEmpty() {
		return nil
	}
	return o
}

func (o BuildStepOverride) isEmpty() bool {
	return o.OrderIndex == nil && o.Description == nil && o.StatusText == nil &&
		o.EstimatedDurationMinutes == nil && o.Type == nil && o.Target == nil &&
		o.Platform == nil && o.Configuration == nil && o.FileName == nil &&
		o.WorkingDir == nil && o.Arguments == nil && o.NormalSync == nil &&
		o.ShowAsTool == nil && o.UseLogWindow == nil
}

func applyField[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Apply returns base with every explicit field of o written over it.
func (o BuildStepOverride) Apply(base BuildStep) BuildStep {
	s := base
	s.UniqueID = o.UniqueID
	applyField(&s.OrderIndex, o.OrderIndex)
	applyField(&s.Description, o.Description)
	applyField(&s.StatusText, o.StatusText)
	applyField(&s.EstimatedDurationMinutes, o.EstimatedDurationMinutes)
	applyField(&s.Type, o.Type)
	applyField(&s.Target, o.Target)
	applyField(&s.Platform, o.Platform)
	applyField(&s.Configuration, o.Configuration)
	applyField(&s.FileName, o.FileName)
	applyField(&s.WorkingDir, o.WorkingDir)
	applyField(&s.Arguments, o.Arguments)
	applyField(&s.NormalSync, o.NormalSync)
	applyField(&s.ShowAsTool, o.ShowAsTool)
	applyField(&s.UseLogWindow, o.UseLogWindow)
	return s
}

// customStepBase is the starting point for overrides with no matching default.
var customStepBase = BuildStep{
	Type:                     BuildStepOther,
	EstimatedDurationMinutes: 1,
	ShowAsTool:               true,
}

// MergeBuildSteps layers user overrides onto the project defaults. Overrides
// are matched by UniqueID; unmatched overrides become custom steps. The result
// is sorted by OrderIndex, keeping default order then override order on ties.
func MergeBuildSteps(defaults []BuildStep, overrides []BuildStepOverride) []BuildStep {
	steps := make([]BuildStep, 0, len(defaults)+len(overrides))
	index := make(map[uuid.UUID]int, len(defaults)+len(overrides))
	for _, def := range defaults {
		if i, ok := index[def.UniqueID]; ok {
			steps[i] = def
			continue
		}
		index[def.UniqueID] = len(steps)
		steps = append(steps, def)
	}
	for _, o := range overrides {
		if o.UniqueID == uuid.Nil {
			continue
		}
		if i, ok := index[o.UniqueID]; ok {
			steps[i] = o.Apply(steps[i])
			continue
		}
		index[o.UniqueID] = len(steps)
		steps = append(steps, o.Apply(customStepBase))
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].OrderIndex < steps[j].OrderIndex
	})
	return steps
}

// DiffBuildSteps is the inverse of MergeBuildSteps: it returns the minimal
// overrides that turn defaults into steps.
func DiffBuildSteps(defaults, steps []BuildStep) []BuildStepOverride {
	byID := make(map[uuid.UUID]*BuildStep, len(defaults))
	for i := range defaults {
		byID[defaults[i].UniqueID] = &defaults[i]
	}
	var overrides []BuildStepOverride
	for _, s := range steps {
		if o := s.ToConfigObject(byID[s.UniqueID]); o != nil {
			overrides = append(overrides, *o)
		}
	}
	return overrides
}

// SelectBuildSteps returns the steps a run executes: the listed tool steps
// when toolIDs is non-empty, otherwise every NormalSync step.
func SelectBuildSteps(steps []BuildStep, toolIDs []uuid.UUID) ([]BuildStep, error) {
	if len(toolIDs) == 0 {
		var selected []BuildStep
		for _, s := range steps {
			if s.NormalSync {
				selected = append(selected, s)
			}
		}
		return selected, nil
	}
	wanted := make(map[uuid.UUID]bool, len(toolIDs))
	for _, id := range toolIDs {
		wanted[id] = true
	}
	var selected []BuildStep
	for _, s := range steps {
		if wanted[s.UniqueID] {
			selected = append(selected, s)
			delete(wanted, s.UniqueID)
		}
	}
	for _, id := range toolIDs {
		if wanted[id] {
			return nil, fmt.Errorf("unknown build step %s", id)
		}
	}
	return selected, nil
}
