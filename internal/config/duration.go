package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a Go duration string such as commands.default_timeout
// ("5s") or metrics.timeout. Empty means zero, i.e. "not set". field is only
// used to name the key in errors.
func ParseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (try \"10s\"): %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", field, raw)
	}
	return d, nil
}

// DurationOr is ParseDuration with def standing in for an unset or zero value.
func DurationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
