package protocol

import "sync"

// Tracker hands out request counters and checks that replies echo the
// counter of the last request. The counter is one byte on the wire and wraps.
type Tracker struct {
	mu       sync.Mutex
	last     uint8
	sent     bool
	received uint8
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Increment and return the counter to put in the next request.
// The first request carries 1.
func (t *Tracker) Next() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	t.sent = true
	return t.last
}

// Check a received counter against the last one sent
func (t *Tracker) Validate(received uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sent || received != t.last {
		return false
	}
	t.received = received
	return true
}

// Last counter sent
func (t *Tracker) Last() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Last counter received and validated
func (t *Tracker) Received() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

// Start over, the next request carries 1 again
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = 0
	t.received = 0
	t.sent = false
}
