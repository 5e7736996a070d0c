package job

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reSpan = regexp.MustCompile(`^(\d+)\s*(ms|s|sec|m|min|h|d|w|mo|y)?$`)
	reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
)

// ParseSpan parses a calendar span.
//
// Supported forms:
//   - Amount + unit: "500ms", "30s", "15m", "2h", "1d", "2w", "1mo", "1y"
//   - HH:MM: "02:30" (150 minutes)
//   - A bare "0" (zero seconds, i.e. no offset)
//
// Units are case-insensitive. "m" is minutes; months are "mo".
func ParseSpan(raw string) (Span, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Span{}, fmt.Errorf("span required")
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Span{}, fmt.Errorf("invalid minutes in %q", raw)
		}
		return Minutes(hh*60 + mm), nil
	}

	m := reSpan.FindStringSubmatch(s)
	if m == nil {
		return Span{}, fmt.Errorf("invalid span %q (use forms like '15m', '1d', '1mo' or '02:30')", raw)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Span{}, fmt.Errorf("invalid amount in %q: %w", raw, err)
	}
	switch m[2] {
	case "":
		if n != 0 {
			return Span{}, fmt.Errorf("span %q needs a unit", raw)
		}
		return Seconds(0), nil
	case "ms":
		return Millis(n), nil
	case "s", "sec":
		return Seconds(n), nil
	case "m", "min":
		return Minutes(n), nil
	case "h":
		return Hours(n), nil
	case "d":
		return Days(n), nil
	case "w":
		return Weeks(n), nil
	case "mo":
		return Months(n), nil
	case "y":
		return Years(n), nil
	}
	return Span{}, fmt.Errorf("invalid unit in %q", raw)
}

// ParseInterval parses a repeat interval; it must be non-zero.
func ParseInterval(raw string) (Span, error) {
	sp, err := ParseSpan(raw)
	if err != nil {
		return Span{}, err
	}
	if sp.Amount <= 0 {
		return Span{}, fmt.Errorf("interval must be > 0")
	}
	return sp, nil
}

// ParseOffset parses a phase offset. Empty means no offset.
func ParseOffset(raw string) (Span, error) {
	if strings.TrimSpace(raw) == "" {
		return Seconds(0), nil
	}
	return ParseSpan(raw)
}
