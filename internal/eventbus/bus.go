package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Job lifecycle event types published by the scheduler and completer.
const (
	JobStarted      = "job.started"
	JobFinished     = "job.finished"
	JobFailed       = "job.failed"
	CompleterFired  = "completer.fired"
	CompleterMisuse = "completer.misuse"
	CompleterForced = "completer.forced"
	ConfigReloaded  = "config.reloaded"
	ConfigRejected  = "config.rejected"
)

const defaultSubBuffer = 8

// Event is a small in-memory signal.
//
// Publish never blocks: every subscriber owns a buffered channel and events
// that do not fit are dropped for that subscriber only.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobRun is the payload of the job.* events.
type JobRun struct {
	Scheduler string        `json:"scheduler"`
	JobID     uint64        `json:"job_id"`
	JobName   string        `json:"job_name"`
	Due       time.Time     `json:"due"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"err,omitempty"`
	Repeating bool          `json:"repeating"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	closed atomic.Bool
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.closed.Load() {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubBuffer
	}
	s := &sub{ch: make(chan Event, buffer)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock can never race a send.
			b.mu.Lock()
			delete(b.subs, id)
			s.closed.Store(true)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
