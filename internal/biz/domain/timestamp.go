package domain

import (
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the form used when an instant has to be substituted
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	// Pre-formatted display clock, e.g. "09:41" or "09:41:07"
	clockPattern = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)

	// Trailing zone designator following a time of day
	zonedPattern = regexp.MustCompile(`\d{2}:\d{2}(:\d{2}(\.\d+)?)?([zZ]|[+-]\d{2}(:?\d{2})?)$`)

	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04Z0700",
		"2006-01-02T15:04:05Z07",
	}
)

// NormalizeTimestamp canonicalizes a timestamp received from the remote side.
//
//   - "HH:MM" and "HH:MM:SS" display strings pass through unchanged.
//   - Zone-qualified values pass through when they parse to a real instant.
//   - Zone-less values are read as UTC: a space separator becomes "T" and "Z" is appended.
//   - Anything that still does not parse becomes the current instant.
//
// The function is idempotent.
func NormalizeTimestamp(value string, now func() time.Time) string {
	v := strings.TrimSpace(value)
	if clockPattern.MatchString(v) {
		return v
	}

	if zonedPattern.MatchString(v) {
		if _, ok := ParseInstant(v); ok {
			return v
		}
		return substitute(now)
	}

	if v == "" {
		return substitute(now)
	}

	candidate := strings.Replace(v, " ", "T", 1) + "Z"
	if _, ok := ParseInstant(candidate); ok {
		return candidate
	}
	return substitute(now)
}

// ParseInstant parses a zone-qualified timestamp. Display clocks and
// zone-less values are not instants.
func ParseInstant(value string) (time.Time, bool) {
	if !zonedPattern.MatchString(value) {
		return time.Time{}, false
	}
	v := value
	if len(v) > 10 && v[10] == ' ' {
		v = v[:10] + "T" + v[11:]
	}
	if strings.HasSuffix(v, "z") {
		v = v[:len(v)-1] + "Z"
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func substitute(now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(TimestampLayout)
}
