package wsync

import (
	"fmt"
)

// WorkspaceUpdateResult is the outcome of one update run.
type WorkspaceUpdateResult int

const (
	ResultUnknown WorkspaceUpdateResult = iota
	ResultCanceled
	ResultFailedToSync
	ResultFilesToResolve
	ResultFilesToClobber
	ResultFailedToCompile
	ResultFailedToCompileWithCleanWorkspace
	ResultSuccess
)

var resultNames = map[WorkspaceUpdateResult]string{
	ResultUnknown:                           "Unknown",
	ResultCanceled:                          "Canceled",
	ResultFailedToSync:                      "FailedToSync",
	ResultFilesToResolve:                    "FilesToResolve",
	ResultFilesToClobber:                    "FilesToClobber",
	ResultFailedToCompile:                   "FailedToCompile",
	ResultFailedToCompileWithCleanWorkspace: "FailedToCompileWithCleanWorkspace",
	ResultSuccess:                           "Success",
}

func (r WorkspaceUpdateResult) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("WorkspaceUpdateResult(%d)", int(r))
}

// ParseWorkspaceUpdateResult is the inverse of String.
func ParseWorkspaceUpdateResult(s string) (WorkspaceUpdateResult, error) {
	for r, name := range resultNames {
		if name == s {
			return r, nil
		}
	}
	return ResultUnknown, fmt.Errorf("unknown update result %q", s)
}

func (r WorkspaceUpdateResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *WorkspaceUpdateResult) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkspaceUpdateResult(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsFailure reports whether the run ended in an error the user should see.
func (r WorkspaceUpdateResult) IsFailure() bool {
	return r != ResultSuccess && r != ResultCanceled && r != ResultUnknown
}
