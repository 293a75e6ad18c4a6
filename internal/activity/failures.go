package activity

import (
	"sync"
	"time"
)

// FailureRecord is one captured send failure. Failures never reach the UI;
// operators read them from the bounded log instead.
type FailureRecord struct {
	Type  Type
	Err   string
	At    time.Time
	Final bool // true when the event was dropped, not re-queued
}

// failureLog keeps the most recent N failures. Older entries are overwritten.
type failureLog struct {
	mu    sync.Mutex
	ring  []FailureRecord
	next  int
	total int
}

func newFailureLog(size int) *failureLog {
	if size <= 0 {
		size = 100
	}
	return &failureLog{ring: make([]FailureRecord, 0, size)}
}

func (l *failureLog) record(t Type, err error, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := FailureRecord{Type: t, Err: err.Error(), At: time.Now(), Final: final}
	if len(l.ring) < cap(l.ring) {
		l.ring = append(l.ring, rec)
	} else {
		l.ring[l.next] = rec
	}
	l.next = (l.next + 1) % cap(l.ring)
	l.total++
}

// snapshot returns the retained records, oldest first, plus the lifetime count.
func (l *failureLog) snapshot() ([]FailureRecord, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FailureRecord, 0, len(l.ring))
	if len(l.ring) < cap(l.ring) {
		out = append(out, l.ring...)
	} else {
		out = append(out, l.ring[l.next:]...)
		out = append(out, l.ring[:l.next]...)
	}
	return out, l.total
}
