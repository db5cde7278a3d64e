// Package stepdef loads project build step definitions.
//
// A project may ship a steps file next to its .uproject. The file is JSONC
// (JSON with comments and trailing commas):
//
//	{
//	  // extra $(Name) variables for every step
//	  "variables": {"CookFlavor": "ASTC"},
//	  "steps": [
//	    {"id": "f097ff61-c916-4058-8391-35b46c3173d5", "configuration": "DebugGame"},
//	    {"id": "6a1c0b8e-5c0e-4a53-9e7a-0c5f7b0e2a11", "description": "Cook Android",
//	     "type": "Cook", "file_name": "$(ProjectFile)", "platform": "Android_$(CookFlavor)",
//	     "show_as_tool": true},
//	  ],
//	}
//
// Entries whose id matches a built-in step change only the fields they
// name; other entries add new steps.
package stepdef

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"

	"wsync-go/internal/wsync"
)

// File is a parsed steps file.
type File struct {
	Variables map[string]string `json:"variables"`
	Steps     []Step            `json:"steps"`
}

// Step is one entry of a steps file. Absent fields keep the value of the
// step it modifies.
type Step struct {
	ID                       uuid.UUID            `json:"id"`
	OrderIndex               *int                 `json:"order_index"`
	Description              *string              `json:"description"`
	StatusText               *string              `json:"status_text"`
	EstimatedDurationMinutes *int                 `json:"estimated_duration_minutes"`
	Type                     *wsync.BuildStepType `json:"type"`
	Target                   *string              `json:"target"`
	Platform                 *string              `json:"platform"`
	Configuration            *string              `json:"configuration"`
	FileName                 *string              `json:"file_name"`
	WorkingDir               *string              `json:"working_dir"`
	Arguments                *string              `json:"arguments"`
	NormalSync               *bool                `json:"normal_sync"`
	ShowAsTool               *bool                `json:"show_as_tool"`
	UseLogWindow             *bool                `json:"use_log_window"`
}

// Override converts the entry into the engine's override form.
func (s Step) Override() wsync.BuildStepOverride {
	return wsync.BuildStepOverride{
		UniqueID:                 s.ID,
		OrderIndex:               s.OrderIndex,
		Description:              s.Description,
		StatusText:               s.StatusText,
		EstimatedDurationMinutes: s.EstimatedDurationMinutes,
		Type:                     s.Type,
		Target:                   s.Target,
		Platform:                 s.Platform,
		Configuration:            s.Configuration,
		FileName:                 s.FileName,
		WorkingDir:               s.WorkingDir,
		Arguments:                s.Arguments,
		NormalSync:               s.NormalSync,
		ShowAsTool:               s.ShowAsTool,
		UseLogWindow:             s.UseLogWindow,
	}
}

// Parse strips JSONC comments and trailing commas from data and decodes it.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("parsing steps file: %w", err)
	}
	for i, s := range f.Steps {
		if s.ID == uuid.Nil {
			return nil, fmt.Errorf("steps[%d]: id is required", i)
		}
	}
	return &f, nil
}

// ReadFile reads and parses a steps file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Apply layers the file's entries onto defaults, giving the project's
// default steps.
func (f *File) Apply(defaults []wsync.BuildStep) []wsync.BuildStep {
	if f == nil {
		return wsync.MergeBuildSteps(defaults, nil)
	}
	overrides := make([]wsync.BuildStepOverride, 0, len(f.Steps))
	for _, s := range f.Steps {
		overrides = append(overrides, s.Override())
	}
	return wsync.MergeBuildSteps(defaults, overrides)
}
