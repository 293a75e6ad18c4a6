package activity

import (
	"sync"
	"time"
)

// Timer is the debounce timer behind batch flushing. Reset replaces any
// pending callback, so repeated enqueues keep pushing the flush out until
// either the delay elapses or the size threshold forces one. A fake
// implementation lets tests fire it without real delays.
type Timer interface {
	Reset(d time.Duration, fn func())
	Stop()
}

type wallTimer struct {
	mu sync.Mutex
	t  *time.Timer
}

// NewWallTimer returns a Timer backed by the runtime clock.
func NewWallTimer() Timer {
	return &wallTimer{}
}

func (w *wallTimer) Reset(d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
	}
	w.t = time.AfterFunc(d, fn)
}

func (w *wallTimer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
		w.t = nil
	}
}
