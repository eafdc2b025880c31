// Package queue holds failure signals that arrive while a rollback
// session is already in flight. At most one session runs per repository,
// so later signals wait here and are drained strictly one at a time.
// Emergency and critical-path signals jump ahead of routine ones.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/lyndonlyu/ripcord/internal/classify"
)

// ErrFull is returned when the pending queue is at capacity; the caller
// should reject the signal rather than drop an older one.
var ErrFull = errors.New("queue: pending signal queue is full")

// Item is one queued failure signal.
type Item struct {
	Signal     classify.Signal
	TargetRef  string
	Reason     string
	Scope      string
	EnqueuedAt time.Time
}

// Stats is a snapshot of queue occupancy.
type Stats struct {
	Urgent int `json:"urgent"`
	Normal int `json:"normal"`
	Total  int `json:"total"`
}

// Queue is a two-level priority queue: urgent signals (emergency flag or
// High/Critical classification) drain before normal ones, FIFO within a
// level.
type Queue struct {
	urgent []Item
	normal []Item
	max    int
	mu     sync.Mutex
}

func New(maxPending int) *Queue {
	if maxPending <= 0 {
		maxPending = 16
	}
	return &Queue{max: maxPending}
}

func urgent(it Item) bool {
	if it.Signal.Emergency {
		return true
	}
	sev, required := classify.Classify(it.Signal)
	return required && sev >= classify.High
}

// Push enqueues an item, stamping EnqueuedAt if unset.
func (q *Queue) Push(it Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.urgent)+len(q.normal) >= q.max {
		return ErrFull
	}
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now().UTC()
	}
	if urgent(it) {
		q.urgent = append(q.urgent, it)
	} else {
		q.normal = append(q.normal, it)
	}
	return nil
}

// Pop removes and returns the highest-priority item. Returns
// (Item{}, false) when the queue is empty.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.urgent) > 0 {
		it := q.urgent[0]
		q.urgent = q.urgent[1:]
		return it, true
	}
	if len(q.normal) > 0 {
		it := q.normal[0]
		q.normal = q.normal[1:]
		return it, true
	}
	return Item{}, false
}

// Len returns the total number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.urgent) + len(q.normal)
}

// Snapshot returns current occupancy.
func (q *Queue) Snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	u := len(q.urgent)
	n := len(q.normal)
	return Stats{Urgent: u, Normal: n, Total: u + n}
}
