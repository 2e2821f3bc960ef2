package http

import (
	"time"

	xutil "CoinPull/pkg/util"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }

// ParseTime accepts RFC3339, RFC3339Nano, dates and unix seconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }

// ParseTimePtr parses an optional time bound; empty input yields nil.
func ParseTimePtr(s string) (*time.Time, bool) { return xutil.ParseTimePtr(s) }
