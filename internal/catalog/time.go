package catalog

import (
	"strings"
	"time"
)

// TimestampLayout is the text form of file start and end times. It sorts
// lexicographically in time order.
const TimestampLayout = "2006-01-02 15:04:05"

var timestampInputs = []string{
	TimestampLayout,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15",
	"2006-01-02",
}

// NormalizeTimestamp rewrites a date or date-time string into TimestampLayout.
// Fractional seconds are dropped. Strings that do not parse are returned
// trimmed but otherwise unchanged.
func NormalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i > 0 && len(s) > 10 {
		s = s[:i]
	}
	for _, layout := range timestampInputs {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(TimestampLayout)
		}
	}
	return s
}
