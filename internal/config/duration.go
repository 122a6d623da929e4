package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty input is 0 and
// negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw, 0, 0)
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero input.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(path, raw, def, 0)
}

// ParseDurationBounded is ParseDurationOrDefault with an upper bound.
// max <= 0 means unbounded.
func ParseDurationBounded(path, raw string, def, max time.Duration) (time.Duration, error) {
	return parseDuration(path, raw, def, max)
}

func parseDuration(path, raw string, def, max time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	case max > 0 && d > max:
		return 0, fmt.Errorf("%s: %s exceeds the %s limit", path, d, max)
	}
	return d, nil
}
