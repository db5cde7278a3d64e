package wsync

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// filterRule is a parsed sync filter line.
type filterRule struct {
	raw       string
	include   bool
	matchPath bool // true = match against the relative path; false = basename only
	re        *regexp.Regexp
}

// SyncFilter decides which workspace paths a sync touches.
//
// Each rule is "+pattern" (include) or "-pattern" (exclude); a bare pattern
// includes. Patterns without '/' match the basename, patterns with '/' match
// the whole path relative to the workspace root. "*" matches within one path
// segment and "..." matches across segments. The last matching rule wins; when
// no include rule exists every path starts out included.
type SyncFilter struct {
	rules       []filterRule
	hasIncludes bool
}

// ParseSyncFilter parses rule lines. Blank lines and '#' comments are skipped.
func ParseSyncFilter(lines []string) (*SyncFilter, error) {
	f := &SyncFilter{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseFilterRule(line)
		if err != nil {
			return nil, err
		}
		f.add(rule)
	}
	return f, nil
}

func parseFilterRule(line string) (filterRule, error) {
	rule := filterRule{raw: line, include: true}
	pattern := line
	switch pattern[0] {
	case '+':
		pattern = pattern[1:]
	case '-':
		rule.include = false
		pattern = pattern[1:]
	}
	pattern = strings.TrimPrefix(strings.TrimSpace(strings.ReplaceAll(pattern, "\\", "/")), "/")
	if pattern == "" {
		return rule, fmt.Errorf("empty sync filter rule %q", line)
	}
	rule.matchPath = strings.Contains(pattern, "/")
	re, err := regexp.Compile("(?i)^" + translatePattern(pattern) + "$")
	if err != nil {
		return rule, fmt.Errorf("compiling sync filter rule %q: %w", line, err)
	}
	rule.re = re
	return rule, nil
}

func translatePattern(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "..."):
			b.WriteString(".*")
			i += 3
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	return b.String()
}

func (f *SyncFilter) add(rule filterRule) {
	f.rules = append(f.rules, rule)
	if rule.include {
		f.hasIncludes = true
	}
}

// WithExcludes returns a copy of f with exclusion rules appended.
func (f *SyncFilter) WithExcludes(patterns ...string) *SyncFilter {
	out := &SyncFilter{hasIncludes: f.hasIncludes}
	out.rules = append(out.rules, f.rules...)
	for _, p := range patterns {
		rule, err := parseFilterRule("-" + p)
		if err != nil {
			continue
		}
		out.add(rule)
	}
	return out
}

// Rules returns the rule lines in evaluation order.
func (f *SyncFilter) Rules() []string {
	out := make([]string, len(f.rules))
	for i, r := range f.rules {
		out[i] = r.raw
	}
	return out
}

// IsEmpty reports whether the filter accepts every path.
func (f *SyncFilter) IsEmpty() bool {
	return f == nil || len(f.rules) == 0
}

// Includes reports whether a workspace-relative path passes the filter.
func (f *SyncFilter) Includes(relativePath string) bool {
	if f.IsEmpty() {
		return true
	}
	normalized := strings.TrimPrefix(strings.ReplaceAll(relativePath, "\\", "/"), "/")
	basename := path.Base(normalized)
	included := !f.hasIncludes
	for _, r := range f.rules {
		subject := basename
		if r.matchPath {
			subject = normalized
		}
		if r.re.MatchString(subject) {
			included = r.include
		}
	}
	return included
}

// Apply returns the paths that pass the filter, preserving order.
func (f *SyncFilter) Apply(paths []string) []string {
	if f.IsEmpty() {
		return paths
	}
	var out []string
	for _, p := range paths {
		if f.Includes(p) {
			out = append(out, p)
		}
	}
	return out
}
