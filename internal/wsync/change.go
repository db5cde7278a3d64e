package wsync

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ChangeType classifies a submitted change by the files it touches.
type ChangeType int

const (
	ChangeTypeUnknown ChangeType = iota
	ChangeTypeCode
	ChangeTypeContent
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeCode:
		return "code"
	case ChangeTypeContent:
		return "content"
	default:
		return "unknown"
	}
}

// Verdict is the CI outcome recorded against a change.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictGood
	VerdictMixed
	VerdictBad
)

func (v Verdict) String() string {
	switch v {
	case VerdictGood:
		return "good"
	case VerdictMixed:
		return "mixed"
	case VerdictBad:
		return "bad"
	default:
		return "none"
	}
}

// ParseVerdict converts the string form produced by Verdict.String.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return VerdictNone, nil
	case "good":
		return VerdictGood, nil
	case "mixed":
		return VerdictMixed, nil
	case "bad":
		return VerdictBad, nil
	}
	return VerdictNone, fmt.Errorf("unknown verdict %q", s)
}

// Change is a single submitted changelist.
type Change struct {
	Number      int
	User        string
	Description string
	Date        time.Time
	Type        ChangeType
}

// CodeExtensions lists the file extensions that make a change a code change.
var CodeExtensions = []string{
	".c", ".cc", ".cpp", ".cs", ".h", ".hpp", ".inl",
	".uproject", ".uplugin", ".usf", ".ush",
}

// IsCodeFile reports whether a depot or local path names a source file.
func IsCodeFile(p string) bool {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(p, "\\", "/")))
	for _, e := range CodeExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ClassifyChangeType returns Code if any file is a code file, Content otherwise.
func ClassifyChangeType(files []string) ChangeType {
	for _, f := range files {
		if IsCodeFile(f) {
			return ChangeTypeCode
		}
	}
	return ChangeTypeContent
}
