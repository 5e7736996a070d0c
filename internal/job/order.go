package job

import "time"

// Key is the ordering key of a job: (Next, Interval, Offset, ID), compared
// field by field. IDs are unique within a Factory, so the order is total.
type Key struct {
	Next     time.Time
	Interval time.Duration
	Offset   time.Duration
	ID       uint64
}

// Compare returns -1, 0 or +1.
func (k Key) Compare(o Key) int {
	if c := k.Next.Compare(o.Next); c != 0 {
		return c
	}
	switch {
	case k.Interval < o.Interval:
		return -1
	case k.Interval > o.Interval:
		return 1
	}
	switch {
	case k.Offset < o.Offset:
		return -1
	case k.Offset > o.Offset:
		return 1
	}
	switch {
	case k.ID < o.ID:
		return -1
	case k.ID > o.ID:
		return 1
	}
	return 0
}

func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

// Compare orders two jobs by their current keys.
func Compare(a, b *Job) int { return a.Key().Compare(b.Key()) }

// Less reports whether a runs before b.
func Less(a, b *Job) bool { return Compare(a, b) < 0 }
