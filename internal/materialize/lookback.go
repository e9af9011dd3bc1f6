package materialize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLookback converts a lookback clause into a duration. It accepts
// both Go duration syntax ("24h", "90m") and the spelled-out form used in
// pipeline files ("7 days", "12 hours", "1 week").
func ParseLookback(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("lookback cannot be negative: %q", s)
		}
		return d, nil
	}

	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid lookback %q: expected forms like \"7 days\" or \"24h\"", s)
	}

	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lookback %q: %q is not a number", s, fields[0])
	}
	if n < 0 {
		return 0, fmt.Errorf("lookback cannot be negative: %q", s)
	}

	unit, ok := lookbackUnits[strings.TrimSuffix(fields[1], "s")]
	if !ok {
		return 0, fmt.Errorf("invalid lookback %q: unknown unit %q", s, fields[1])
	}
	return time.Duration(n * float64(unit)), nil
}

var lookbackUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}
