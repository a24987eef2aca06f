// Package idgen mints issue identifiers and monotonic timestamps.
//
// Identifiers have the form <prefix>-<10 lowercase hex chars>, sampled from
// crypto/rand. At 10 hex chars the collision probability stays below 1e-6 for
// 10,000 issues; callers that do hit a collision re-mint at 16 chars via Long.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// ShortHexLen is the default id entropy in hex characters.
const ShortHexLen = 10

// LongHexLen is the collision-fallback id entropy in hex characters.
const LongHexLen = 16

// New mints a fresh short id for the given project prefix.
func New(prefix string) string {
	return prefix + "-" + randomHex(ShortHexLen)
}

// Long mints a long-form id, used when a short id collided.
func Long(prefix string) string {
	return prefix + "-" + randomHex(LongHexLen)
}

// NewFileID mints a file-record id: <prefix>-f-<10 hex>.
func NewFileID(prefix string) string {
	return prefix + "-f-" + randomHex(ShortHexLen)
}

// NewFindingID mints a scan-finding id: <prefix>-s-<10 hex>.
func NewFindingID(prefix string) string {
	return prefix + "-s-" + randomHex(ShortHexLen)
}

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// nothing sensible to do but surface it loudly.
		panic(fmt.Sprintf("idgen: entropy source unavailable: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*-(?:f-|s-)?[0-9a-f]{10}(?:[0-9a-f]{6})?$`)

// ValidateID checks that an id is well-formed and carries the expected prefix.
func ValidateID(id, prefix string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("malformed id %q", id)
	}
	want := prefix + "-"
	if len(id) < len(want) || id[:len(want)] != want {
		return fmt.Errorf("id %q does not match project prefix %q", id, prefix)
	}
	return nil
}

// ValidatePrefix checks a project prefix chosen at init time.
var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,15}$`)

// ValidatePrefix rejects prefixes that would produce ambiguous ids.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("invalid prefix %q: must be 1-16 chars, lowercase alphanumeric starting with a letter", prefix)
	}
	return nil
}

// TimestampFormat is ISO-8601 UTC at millisecond precision. It is the
// change-feed cursor format: get_events_since(ts) compares against values
// produced here.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

var (
	clockMu sync.Mutex
	lastTS  time.Time
)

// Now returns the current UTC time truncated to millisecond precision,
// strictly greater than any previous value returned by this process. Commit
// timestamps derived from Now give a total order for the event cursor.
func Now() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()
	t := time.Now().UTC().Truncate(time.Millisecond)
	if !t.After(lastTS) {
		t = lastTS.Add(time.Millisecond)
	}
	lastTS = t
	return t
}

// FormatTime renders a timestamp in the cursor format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTime parses a cursor-format timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}
