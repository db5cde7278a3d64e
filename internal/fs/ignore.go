package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-workspace file listing untracked paths that
// clean must never offer for deletion.
const IgnoreFileName = ".wsyncignore"

// defaultIgnorePatterns are always applied regardless of config or .wsyncignore.
var defaultIgnorePatterns = []string{IgnoreFileName, ".p4config", "p4config.txt"}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
	dirPrefix bool // pattern ended in '/': match everything below the directory
}

// IgnoreMatcher checks workspace-relative paths against a set of ignore patterns.
// Patterns without '/' match against the file's basename only.
// Patterns with '/' match against the full relative path from the workspace root.
// A pattern ending in '/' matches every file below that directory.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings plus the
// default patterns. Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range append(append([]string{}, defaultIgnorePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := ignorePattern{pattern: strings.TrimPrefix(raw, "/")}
		if strings.HasSuffix(p.pattern, "/") {
			p.dirPrefix = true
			p.pattern = strings.TrimSuffix(p.pattern, "/")
		}
		p.matchPath = p.dirPrefix || strings.Contains(p.pattern, "/")
		if p.pattern == "" {
			continue
		}
		patterns = append(patterns, p)
	}
	return &IgnoreMatcher{patterns: patterns}
}

// LoadIgnoreMatcher combines the configured patterns with the workspace's
// .wsyncignore file, if present.
func LoadIgnoreMatcher(root string, configured []string) (*IgnoreMatcher, error) {
	fromFile, err := ReadPatternFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewIgnoreMatcher(append(append([]string{}, configured...), fromFile...)), nil
}

// Match reports whether the given workspace-relative path should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	normalized := strings.Trim(filepath.ToSlash(relativePath), "/")
	if normalized == "" {
		return false
	}
	basename := path.Base(normalized)

	for _, p := range m.patterns {
		if p.dirPrefix {
			if matchDirPrefix(p.pattern, normalized) {
				return true
			}
			continue
		}
		target := basename
		if p.matchPath {
			target = normalized
		}
		// Bad patterns never match.
		if matched, err := path.Match(p.pattern, target); err == nil && matched {
			return true
		}
	}
	return false
}

// matchDirPrefix reports whether any leading directory of p matches pattern.
func matchDirPrefix(pattern, p string) bool {
	depth := strings.Count(pattern, "/") + 1
	parts := strings.Split(p, "/")
	if len(parts) <= depth {
		return false
	}
	matched, err := path.Match(pattern, strings.Join(parts[:depth], "/"))
	return err == nil && matched
}

// Filter returns the paths that are not ignored, preserving order.
func (m *IgnoreMatcher) Filter(relativePaths []string) []string {
	var kept []string
	for _, p := range relativePaths {
		if !m.Match(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

// ReadPatternFile reads a pattern file (.wsyncignore or a sync filter file)
// and returns its raw lines. Returns nil and no error if the file does not exist.
func ReadPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening pattern file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading pattern file %s: %w", path, err)
	}
	return patterns, nil
}
