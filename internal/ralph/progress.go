package ralph

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is the task completion count parsed from driver status output.
type Progress struct {
	Done  int
	Total int
}

var (
	progressPattern = regexp.MustCompile(`Progress:\s*(\d+)/(\d+)\s*complete`)
	taskLinePattern = regexp.MustCompile(`(?m)^\s+\d+\.\s+(\S+)`)
)

const completeMark = "✅" // checkmark the driver renders for finished tasks

// ParseProgress extracts completion info from `--status --tasks` output.
// Primary form is "Progress: N/M complete"; the fallback counts checked
// task lines. Returns ok=false when neither form is present.
func ParseProgress(status string) (Progress, bool) {
	if m := progressPattern.FindStringSubmatch(status); m != nil {
		done, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		return Progress{Done: done, Total: total}, true
	}

	lines := taskLinePattern.FindAllStringSubmatch(status, -1)
	if len(lines) == 0 {
		return Progress{}, false
	}
	p := Progress{Total: len(lines)}
	for _, m := range lines {
		if m[1] == completeMark {
			p.Done++
		}
	}
	return p, true
}

// NoActiveLoop reports whether the driver says no loop is running.
func NoActiveLoop(status string) bool {
	return strings.Contains(status, "No active loop")
}

// AllComplete reports whether every task in the status output is done.
func AllComplete(status string) bool {
	p, ok := ParseProgress(status)
	return ok && p.Total > 0 && p.Done == p.Total
}
