package session

import (
	"sync"
	"time"
)

// typingNotifier debounces outbound typing presence: at most one "typing"
// announcement per minInterval, and an automatic "stopped typing" after
// idleAfter without a Touch, even if the caller never signals it.
type typingNotifier struct {
	minInterval time.Duration
	idleAfter   time.Duration
	send        func(active bool)

	mu        sync.Mutex
	lastSent  time.Time
	active    bool
	idleTimer *time.Timer
	stopped   bool
}

func newTypingNotifier(minInterval, idleAfter time.Duration, send func(bool)) *typingNotifier {
	return &typingNotifier{
		minInterval: minInterval,
		idleAfter:   idleAfter,
		send:        send,
	}
}

// Touch records input activity. It re-announces only when the debounce
// interval has passed, but always pushes the idle deadline out.
func (t *typingNotifier) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	now := time.Now()
	if !t.active || now.Sub(t.lastSent) >= t.minInterval {
		t.send(true)
		t.lastSent = now
		t.active = true
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idleAfter, t.idle)
}

func (t *typingNotifier) idle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || !t.active {
		return
	}
	t.active = false
	t.send(false)
}

func (t *typingNotifier) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.active = false
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
}
