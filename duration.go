package asyncfsm

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// DurationError is returned for a malformed duration literal.
type DurationError struct {
	Input  string
	Reason string
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("invalid duration %q: %s", e.Input, e.Reason)
}

var durationUnits = []struct {
	suffix string
	unit   time.Duration
}{
	// "ms" must be tried before "m" and "s"
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
}

// ParseDuration parses a literal made of a non-negative integer followed by
// one of the units ms, s, m or h, e.g. "100ms" or "30s".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, &DurationError{Input: s, Reason: "empty literal"}
	}

	for _, u := range durationUnits {
		if len(s) <= len(u.suffix) || s[len(s)-len(u.suffix):] != u.suffix {
			continue
		}
		digits := s[:len(s)-len(u.suffix)]
		if !isDigits(digits) {
			return 0, &DurationError{Input: s, Reason: fmt.Sprintf("non-numeric magnitude %q", digits)}
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || n > math.MaxInt64/int64(u.unit) {
			return 0, &DurationError{Input: s, Reason: "magnitude out of range"}
		}
		return time.Duration(n) * u.unit, nil
	}

	if isDigits(s) {
		return 0, &DurationError{Input: s, Reason: "missing unit (want ms, s, m or h)"}
	}
	return 0, &DurationError{Input: s, Reason: "unknown unit (want ms, s, m or h)"}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
