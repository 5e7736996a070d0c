package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ComponentKey is the field naming the subsystem that wrote a line. The
// console output prints it before the message.
const ComponentKey = "comp"

// Field sets one key on a log line. Fields apply in order, so a later field
// overwrites an earlier one with the same key.
type Field func(e *zerolog.Event)

func Component(name string) Field { return String(ComponentKey, name) }

func String(k, v string) Field           { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field          { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field      { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field    { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field        { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field   { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field          { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Duration logs d as a Go duration string ("1m30s") rather than a number,
// which reads better next to schedule intervals.
func Duration(k string, d time.Duration) Field {
	return func(e *zerolog.Event) { e.Str(k, d.String()) }
}

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Stack attaches a goroutine stack, skipped when blank.
func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if s := strings.TrimSpace(stack); s != "" {
			e.Str("stack", s)
		}
	}
}
