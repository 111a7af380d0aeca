package review

import (
	"regexp"
	"strconv"
	"strings"
)

var hunkNewStart = regexp.MustCompile(`\+(\d+)`)

// ResolvePosition maps a line number of the new file to its position in the
// unified diff patch GitHub returns for that file. Positions count every line
// below the first hunk header across all hunks; hunk headers themselves are
// not counted. The second result is false when the line is not part of the
// diff.
func ResolvePosition(patch string, line int) (int, bool) {
	if line <= 0 {
		return 0, false
	}

	current, position := 0, 0
	for _, l := range strings.Split(patch, "\n") {
		if strings.HasPrefix(l, "@@") {
			if m := hunkNewStart.FindStringSubmatch(l); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					current = n - 1
				}
			}
			continue
		}

		position++
		if strings.HasPrefix(l, "+") || strings.HasPrefix(l, " ") {
			current++
			if current == line {
				return position, true
			}
		}
	}
	return 0, false
}
