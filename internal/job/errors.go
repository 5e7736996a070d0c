package job

import (
	"errors"
	"fmt"
)

var (
	ErrNilFunc        = errors.New("job: func is nil")
	ErrNegativeAmount = errors.New("job: amount must be >= 0")
	ErrZeroInterval   = errors.New("job: repeating interval must be > 0")
	ErrOffsetTooLarge = errors.New("job: offset must be smaller than interval")
	ErrUnknownField   = errors.New("job: unknown calendar field")
	ErrNoOccurrence   = errors.New("job: schedule has no future occurrence")
)

// Fatal marks an error as catastrophic.
//
// A Scheduler that observes a fatal error from a job emits diagnostics and
// terminates the process: its internal state can no longer be trusted.
//
// Example:
//
//	return job.Fatal(fmt.Errorf("allocator exhausted: %w", err))
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal reports whether err is wrapped with Fatal.
func IsFatal(err error) bool {
	var e fatalError
	return errors.As(err, &e)
}

type fatalError struct{ err error }

func (e fatalError) Error() string { return fmt.Sprintf("fatal: %v", e.err) }
func (e fatalError) Unwrap() error { return e.err }

// PanicError is returned by PerformTask when the job func panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes a panicked error value so errors.Is/As (and IsFatal) see it.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
