package session

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot is the session state a summary is built from. Key and tool
// slices are expected sorted.
type Snapshot struct {
	StartedAt time.Time
	Now       time.Time
	APICalls  int
	Written   []string
	Read      []string
	Tools     []string
}

// BuildSummary composes the human-readable session summary: duration and
// call count, then one line per non-empty activity list.
func BuildSummary(s Snapshot) string {
	mins := int(s.Now.Sub(s.StartedAt).Minutes())
	if mins < 1 {
		mins = 1
	}

	lines := []string{fmt.Sprintf("%dm session, %d API calls", mins, s.APICalls)}
	if len(s.Written) > 0 {
		lines = append(lines, "wrote: "+strings.Join(s.Written, ", "))
	}
	if len(s.Read) > 0 {
		lines = append(lines, "read: "+strings.Join(s.Read, ", "))
	}
	if len(s.Tools) > 0 {
		lines = append(lines, "tools: "+strings.Join(s.Tools, ", "))
	}
	return strings.Join(lines, "\n")
}
