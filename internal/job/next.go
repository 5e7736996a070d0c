package job

import "time"

// alignNext returns the first boundary strictly after now, where boundaries
// sit at offset + k*interval on the local wall clock of loc.
//
// The zone offset (standard plus daylight saving) at now is subtracted from
// the phase before aligning, so a "daily at 00:00" job lands on local midnight
// rather than UTC midnight. The candidate is converted back with the zone
// offset in effect at the candidate itself, which keeps the wall-clock hour
// stable across a DST transition.
func alignNext(now time.Time, loc *time.Location, interval, offset time.Duration) time.Time {
	if loc == nil {
		loc = time.Local
	}
	iv := interval.Milliseconds()
	off := offset.Milliseconds()
	if iv <= 0 {
		return now
	}

	_, zoneSec := now.In(loc).Zone()
	local := now.UnixMilli() + int64(zoneSec)*1000

	next := floorDiv(local-off, iv)*iv + off + iv
	for {
		t := fromLocalMillis(next, loc)
		if t.After(now) {
			return t
		}
		next += iv
	}
}

// fromLocalMillis converts milliseconds on the local wall clock of loc back
// to an instant. A wall time skipped by a forward transition resolves to the
// instant just after the gap.
func fromLocalMillis(ms int64, loc *time.Location) time.Time {
	_, guess := time.UnixMilli(ms).In(loc).Zone()
	t := time.UnixMilli(ms - int64(guess)*1000).In(loc)
	_, actual := t.Zone()
	if actual == guess {
		return t
	}
	u := time.UnixMilli(ms - int64(actual)*1000).In(loc)
	if _, again := u.Zone(); again == actual {
		return u
	}
	// Neither offset round-trips: ms is inside a gap. The smaller,
	// pre-transition offset gives the later instant.
	return time.UnixMilli(ms - int64(min(guess, actual))*1000).In(loc)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
