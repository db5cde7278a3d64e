package wsync

import (
	"regexp"
	"sort"
)

var variablePattern = regexp.MustCompile(`\$\(([A-Za-z0-9_.]+)\)`)

// ExpandVariables replaces $(Name) tokens from vars. Unknown tokens are left as written.
func ExpandVariables(s string, vars map[string]string) string {
	if len(vars) == 0 {
		return s
	}
	return variablePattern.ReplaceAllStringFunc(s, func(token string) string {
		name := token[2 : len(token)-1]
		if value, ok := vars[name]; ok {
			return value
		}
		return token
	})
}

// UnresolvedVariables lists the distinct $(Name) tokens still present in s.
func UnresolvedVariables(s string) []string {
	seen := map[string]bool{}
	for _, m := range variablePattern.FindAllStringSubmatch(s, -1) {
		seen[m[1]] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
