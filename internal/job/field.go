package job

import (
	"fmt"
	"time"
)

// Field is a calendar field. Amounts of Day and larger have variable real
// length (DST days, month lengths), so they are added on the calendar rather
// than multiplied out.
type Field int

const (
	Millisecond Field = iota
	Second
	Minute
	Hour
	Day
	Week
	Month
	Year
)

func (f Field) String() string {
	switch f {
	case Millisecond:
		return "ms"
	case Second:
		return "s"
	case Minute:
		return "m"
	case Hour:
		return "h"
	case Day:
		return "d"
	case Week:
		return "w"
	case Month:
		return "mo"
	case Year:
		return "y"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Span is an amount of a calendar field.
type Span struct {
	Field  Field
	Amount int
}

func Millis(n int) Span  { return Span{Field: Millisecond, Amount: n} }
func Seconds(n int) Span { return Span{Field: Second, Amount: n} }
func Minutes(n int) Span { return Span{Field: Minute, Amount: n} }
func Hours(n int) Span   { return Span{Field: Hour, Amount: n} }
func Days(n int) Span    { return Span{Field: Day, Amount: n} }
func Weeks(n int) Span   { return Span{Field: Week, Amount: n} }
func Months(n int) Span  { return Span{Field: Month, Amount: n} }
func Years(n int) Span   { return Span{Field: Year, Amount: n} }

func (s Span) String() string { return fmt.Sprintf("%d%s", s.Amount, s.Field) }

// Duration resolves the span to a fixed duration by adding it to the Unix
// epoch on the calendar of loc.
//
// "1 month" is therefore the length of January 1970 and "1 day" the length of
// 1970-01-01 in loc. The result is computed once per job, at construction.
func (s Span) Duration(loc *time.Location) (time.Duration, error) {
	if s.Amount < 0 {
		return 0, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	if loc == nil {
		loc = time.Local
	}
	epoch := time.UnixMilli(0).In(loc)
	n := s.Amount
	var t time.Time
	switch s.Field {
	case Millisecond:
		t = epoch.Add(time.Duration(n) * time.Millisecond)
	case Second:
		t = epoch.Add(time.Duration(n) * time.Second)
	case Minute:
		t = epoch.Add(time.Duration(n) * time.Minute)
	case Hour:
		t = epoch.Add(time.Duration(n) * time.Hour)
	case Day:
		t = epoch.AddDate(0, 0, n)
	case Week:
		t = epoch.AddDate(0, 0, 7*n)
	case Month:
		t = epoch.AddDate(0, n, 0)
	case Year:
		t = epoch.AddDate(n, 0, 0)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownField, int(s.Field))
	}
	return t.Sub(epoch), nil
}
