package util

import (
	"strconv"
	"time"
)

// timeLayouts are tried in order by ParseTime.
var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
	"20060102",
}

// minUnixDigits keeps compact dates such as 20240101 from reading as unix
// seconds; nine digits is March 1973 onwards.
const minUnixDigits = 9

// ParseTime tries RFC3339, RFC3339Nano, naive date-times, dates (UTC,
// 2006-01-02 or 20060102) and unix seconds of at least nine digits. Returns
// (t, true) if any worked. Results are always UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if len(s) < minUnixDigits {
		return time.Time{}, false
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimePtr parses an optional bound. Empty input is (nil, true).
func ParseTimePtr(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	t, ok := ParseTime(s)
	if !ok {
		return nil, false
	}
	return &t, true
}
