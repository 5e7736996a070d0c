package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClosed        = errors.New("storage: store closed")
	ErrUnknownDriver = errors.New("storage: unknown driver")
	ErrPathRequired  = errors.New("storage: path is required")
)

const defaultRetain = 10000

// Store is the run journal.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // records kept after compaction; 0 means 10000
}

// RunRecord is one finished job execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID         string    `json:"id"`
	Scheduler  string    `json:"scheduler"`
	JobID      uint64    `json:"job_id"`
	Job        string    `json:"job"`
	Due        time.Time `json:"due"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// OK reports whether the run succeeded.
func (r RunRecord) OK() bool { return r.Error == "" }

func (r *RunRecord) fillID() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return defaultRetain
	}
	return c.Retain
}
