package attendance

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders d as "1 day 2 hours 3 minutes 4 seconds", dropping
// zero components. Seconds are always shown when nothing else is.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d day%s", days, Plural(days)))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hour%s", hours, Plural(hours)))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minute%s", minutes, Plural(minutes)))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d second%s", seconds, Plural(seconds)))
	}
	return strings.Join(parts, " ")
}

// Plural returns the English plural suffix for n.
func Plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
