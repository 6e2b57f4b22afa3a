package searcher

import (
	"sync"
	"time"
)

// Debouncer forwards the last of a burst of queries once no new query
// arrived for the configured delay.
type Debouncer struct {
	delay time.Duration
	fn    func(query string)

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	armed   bool
	closed  bool
}

// NewDebouncer creates a debouncer calling fn. A delay of zero forwards
// every query immediately.
func NewDebouncer(delay time.Duration, fn func(query string)) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Submit records query, replacing any query still waiting.
func (d *Debouncer) Submit(query string) {
	if d.delay <= 0 {
		d.fn(query)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending, d.armed = query, true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire() })
}

// Flush forwards a waiting query right away and reports whether there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	return d.fire()
}

func (d *Debouncer) fire() bool {
	d.mu.Lock()
	if d.closed || !d.armed {
		d.mu.Unlock()
		return false
	}
	q := d.pending
	d.armed = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(q)
	return true
}

// Close drops any waiting query.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
