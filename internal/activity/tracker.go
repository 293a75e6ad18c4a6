package activity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/avivas33/portal-telemetry/internal/fingerprint"
)

// Sender delivers one enriched event to the collector. Implementations
// decide transport; the tracker only sees success or failure.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// DeviceSource yields the memoized device signature merged into every event.
// *fingerprint.Collector satisfies it.
type DeviceSource interface {
	DeviceInfo() fingerprint.Signature
}

type Config struct {
	// BatchSize is both the flush threshold and the per-flush drain limit.
	BatchSize int
	// FlushInterval is the debounce delay; each enqueue below the threshold
	// resets it.
	FlushInterval time.Duration
	// SendTimeout bounds every individual delivery attempt.
	SendTimeout time.Duration
	// MaxAttempts caps delivery attempts per event before it is dropped.
	MaxAttempts int
	// FailureLogSize bounds the in-memory failure log.
	FailureLogSize int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.FailureLogSize <= 0 {
		c.FailureLogSize = 100
	}
}

type queued struct {
	ev       Event
	attempts int
}

// Tracker owns the pending event queue. Construct one per process in the
// composition root; its lifetime matches the session.
type Tracker struct {
	cfg       Config
	sender    Sender
	device    DeviceSource
	sessionID string
	clientID  string
	timer     Timer
	failures  *failureLog

	mu       sync.Mutex
	queue    []queued
	flushing bool
	dropped  int
}

func NewTracker(cfg Config, sender Sender, device DeviceSource, sessionID, clientID string, timer Timer) *Tracker {
	cfg.applyDefaults()
	if timer == nil {
		timer = NewWallTimer()
	}
	return &Tracker{
		cfg:       cfg,
		sender:    sender,
		device:    device,
		sessionID: sessionID,
		clientID:  clientID,
		timer:     timer,
		failures:  newFailureLog(cfg.FailureLogSize),
	}
}

// Track records one event. It never returns an error: delivery failures are
// logged and retried through the queue, not surfaced to the caller. Payment
// events are sent on the calling goroutine, bounded by the send timeout;
// everything else is buffered.
func (t *Tracker) Track(ev Event) {
	ev.SessionID = t.sessionID
	if ev.ClientID == "" {
		ev.ClientID = t.clientID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	sig := t.device.DeviceInfo()
	ev.Device = &sig

	if ev.Type.Critical() {
		t.sendCritical(ev)
		return
	}
	t.enqueue(queued{ev: ev})
}

// sendCritical issues exactly one immediate, individual send. On failure the
// event is demoted into the buffered queue instead of being dropped.
func (t *Tracker) sendCritical(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SendTimeout)
	defer cancel()
	if err := t.sender.Send(ctx, ev); err != nil {
		log.Printf("activity: immediate send of %s failed, queueing: %v", ev.Type, err)
		t.failures.record(ev.Type, err, false)
		t.enqueue(queued{ev: ev, attempts: 1})
	}
}

func (t *Tracker) enqueue(q queued) {
	t.mu.Lock()
	t.queue = append(t.queue, q)
	n := len(t.queue)
	t.mu.Unlock()

	if n >= t.cfg.BatchSize {
		t.Flush()
		return
	}
	t.timer.Reset(t.cfg.FlushInterval, t.Flush)
}

// Flush drains up to one batch of queued events, sending each as its own
// request concurrently. Failed events go back on the tail for a later
// attempt until their attempt budget runs out. Only one flush runs at a
// time; an overflow during a flush waits for the next trigger.
func (t *Tracker) Flush() {
	t.mu.Lock()
	if t.flushing || len(t.queue) == 0 {
		t.mu.Unlock()
		return
	}
	t.flushing = true
	n := len(t.queue)
	if n > t.cfg.BatchSize {
		n = t.cfg.BatchSize
	}
	batch := make([]queued, n)
	copy(batch, t.queue[:n])
	t.queue = append([]queued(nil), t.queue[n:]...)
	t.mu.Unlock()

	var wg sync.WaitGroup
	var retryMu sync.Mutex
	var retry []queued
	var droppedNow int
	for _, q := range batch {
		wg.Add(1)
		go func(q queued) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SendTimeout)
			defer cancel()
			err := t.sender.Send(ctx, q.ev)
			if err == nil {
				return
			}
			q.attempts++
			if q.attempts >= t.cfg.MaxAttempts {
				log.Printf("activity: dropping %s after %d attempts: %v", q.ev.Type, q.attempts, err)
				t.failures.record(q.ev.Type, err, true)
				retryMu.Lock()
				droppedNow++
				retryMu.Unlock()
				return
			}
			t.failures.record(q.ev.Type, err, false)
			retryMu.Lock()
			retry = append(retry, q)
			retryMu.Unlock()
		}(q)
	}
	wg.Wait()

	t.mu.Lock()
	t.queue = append(t.queue, retry...)
	t.dropped += droppedNow
	t.flushing = false
	remaining := len(t.queue)
	t.mu.Unlock()

	if remaining > 0 {
		t.timer.Reset(t.cfg.FlushInterval, t.Flush)
	}
}

// Close stops the debounce timer and drains whatever is still queued,
// sending each event individually. Failures during the drain are logged
// only; the process is going away and there is no further retry.
func (t *Tracker) Close(ctx context.Context) {
	t.timer.Stop()

	t.mu.Lock()
	rest := t.queue
	t.queue = nil
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, q := range rest {
		wg.Add(1)
		go func(ev Event) {
			defer wg.Done()
			if err := t.sender.Send(ctx, ev); err != nil {
				log.Printf("activity: unload send of %s failed: %v", ev.Type, err)
			}
		}(q.ev)
	}
	wg.Wait()
}

// QueueLen reports the number of buffered events.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Dropped reports how many events exhausted their attempt budget.
func (t *Tracker) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Failures returns the retained failure records (oldest first) and the
// lifetime failure count.
func (t *Tracker) Failures() ([]FailureRecord, int) {
	return t.failures.snapshot()
}
