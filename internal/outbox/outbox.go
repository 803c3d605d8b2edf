// Package outbox buffers game proposals issued while the connection is down.
package outbox

import (
	"sync"

	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

// Entry is one queued proposal. Identity and message id are stamped when
// the entry is flushed, not when it is queued.
type Entry struct {
	Payload  protocol.Game
	QueuedAt int64
}

// Queue is a FIFO safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	dropped int
}

// New returns a queue holding at most limit entries; limit <= 0 is unbounded.
func New(limit int) *Queue {
	return &Queue{limit: limit}
}

// Push appends g. On a full bounded queue the oldest entry is evicted and
// returned so the caller can report it.
func (q *Queue) Push(g protocol.Game, queuedAt int64) (evicted *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.entries) >= q.limit {
		old := q.entries[0]
		evicted = &old
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, Entry{Payload: g, QueuedAt: queuedAt})
	return evicted
}

// Drain removes and returns every entry in the order it was pushed.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

// Requeue puts entries back at the front, used when a flush is cut short.
func (q *Queue) Requeue(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(append(make([]Entry, 0, len(entries)+len(q.entries)), entries...), q.entries...)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped counts entries evicted by the limit.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
