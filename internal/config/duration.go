package config

import (
	"fmt"
	"strings"
	"time"

	"jobsched/internal/job"
)

// ParseDurationField parses a config duration. It accepts Go durations
// ("90s", "1h30m") and whole days or weeks ("2d", "1w"), taken as 24h and
// 7*24h. Empty means 0; negative values are rejected. path names the field
// in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		sp, spanErr := job.ParseSpan(s)
		if spanErr != nil || (sp.Field != job.Day && sp.Field != job.Week) {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
		}
		d, err = sp.Duration(time.UTC)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
