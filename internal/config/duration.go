package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration is time.ParseDuration plus a whole-day form ("30d") for retention-like fields.
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

// ParseDurationField parses a non-negative duration named path. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return ParseDurationOrDefault(path, raw, 0)
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := parseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// MustDuration is for fields Validate has already accepted; a bad value yields def.
func MustDuration(raw string, def time.Duration) time.Duration {
	if d, err := ParseDurationOrDefault("", raw, def); err == nil {
		return d
	}
	return def
}
