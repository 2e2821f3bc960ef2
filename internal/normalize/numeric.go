package normalize

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// absentTokens are cell values exported for "no value".
var absentTokens = map[string]struct{}{
	"":     {},
	"-":    {},
	"--":   {},
	"n/a":  {},
	"na":   {},
	"nan":  {},
	"none": {},
	"null": {},
}

// isAbsent reports whether a trimmed cell carries no value.
func isAbsent(s string) bool {
	_, ok := absentTokens[strings.ToLower(s)]
	return ok
}

// parseNumber coerces a cell to float64. Currency symbols, thousands
// separators and a trailing percent sign are accepted. Absent cells return nil.
func parseNumber(raw string) (*float64, bool) {
	s := strings.TrimSpace(raw)
	if isAbsent(s) {
		return nil, true
	}
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, false
	}
	return &f, true
}

// parseCount coerces a cell to a whole number.
func parseCount(raw string) (*int64, bool) {
	f, ok := parseNumber(raw)
	if !ok || f == nil {
		return nil, ok
	}
	// float64(math.MaxInt64) rounds up to 1<<63, which int64 cannot hold.
	if *f != math.Trunc(*f) || *f < 0 || *f >= 1<<63 {
		return nil, false
	}
	n := int64(*f)
	return &n, true
}
