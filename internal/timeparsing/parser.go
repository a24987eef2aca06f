// Package timeparsing resolves the time expressions accepted by CLI flags
// like --before and --since. Parsing is layered: compact durations first
// (-30d, +6h), then natural language ("2 weeks ago", "yesterday"), then
// absolute timestamps (RFC3339 or date-only).
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var compactRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// IsCompactDuration reports whether s looks like a compact duration (+6h,
// -30d, 2w, 3m, 1y).
func IsCompactDuration(s string) bool {
	return compactRe.MatchString(s)
}

// ParseCompactDuration resolves a compact duration relative to now. Units are
// h, d, w, m, y; an unsigned amount counts forward.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	m := compactRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad duration amount %q", m[2])
	}
	if m[1] == "-" {
		amount = -amount
	}
	switch m[3] {
	case "h":
		return now.Add(time.Duration(amount) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, amount), nil
	case "w":
		return now.AddDate(0, 0, amount*7), nil
	case "m":
		return now.AddDate(0, amount, 0), nil
	default: // y, the regexp admits nothing else
		return now.AddDate(amount, 0, 0), nil
	}
}

var nlParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

// ParseNaturalLanguage resolves expressions like "tomorrow", "next monday",
// or "3 days ago" relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	result, err := nlParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("cannot interpret %q as a time", s)
	}
	return result.Time, nil
}

// absoluteLayouts are tried in order for ParseAbsolute.
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseAbsolute resolves an RFC3339 or date-only timestamp
func ParseAbsolute(s string) (time.Time, error) {
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an absolute timestamp: %q", s)
}

// Parse resolves s through each layer in turn
func Parse(s string, now time.Time) (time.Time, error) {
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := ParseAbsolute(s); err == nil {
		return t, nil
	}
	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q: want a compact duration (-30d), a date (2025-01-02), or a phrase (\"2 weeks ago\")", s)
}
