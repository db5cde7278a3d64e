package perforce

import (
	"bufio"
	"bytes"
	"strings"
)

// Record is one tagged object from `p4 -ztag` output.
type Record map[string]string

// parseRecords splits -ztag output into records. Each field line reads
// "... key value"; records are separated by blank lines. Lines that do not
// start with "... " continue the previous value, which is how multi-line
// change descriptions are printed.
func parseRecords(data []byte) []Record {
	var (
		records []Record
		current Record
		lastKey string
	)
	flush := func() {
		if len(current) > 0 {
			for k, v := range current {
				current[k] = strings.TrimRight(v, "\n")
			}
			records = append(records, current)
		}
		current = nil
		lastKey = ""
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(line, "... ") {
			if current == nil {
				current = Record{}
			}
			key, value, _ := strings.Cut(line[len("... "):], " ")
			if _, dup := current[key]; dup {
				// A repeated key starts a new record when the
				// separating blank line was dropped.
				flush()
				current = Record{}
			}
			current[key] = value
			lastKey = key
			continue
		}
		if line == "" && lastKey != "desc" {
			flush()
			continue
		}
		if current != nil && lastKey != "" {
			current[lastKey] += "\n" + line
		}
	}
	flush()
	return records
}

// messageLines returns the non-empty lines of stderr.
func messageLines(data []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
