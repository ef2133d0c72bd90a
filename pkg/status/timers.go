package status

import (
	"sync"
	"time"
)

// Timers holds named, cancellable one-shot callbacks. Scheduling a name that is already pending
// replaces it. A fired callback whose timer was replaced or cancelled in the meantime is dropped.
type Timers struct {
	mu      sync.Mutex
	pending map[string]*entry
	stopped bool
	seq     uint64
}

type entry struct {
	id    uint64
	timer *time.Timer
}

func NewTimers() *Timers {
	return &Timers{pending: make(map[string]*entry)}
}

// Schedule runs fn after d unless the name is cancelled or rescheduled first.
// It returns false once the timers are stopped.
func (t *Timers) Schedule(name string, d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if old, ok := t.pending[name]; ok {
		old.timer.Stop()
	}
	t.seq++
	id := t.seq
	e := &entry{id: id}
	e.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		cur, ok := t.pending[name]
		if !ok || cur.id != id {
			t.mu.Unlock()
			return
		}
		delete(t.pending, name)
		t.mu.Unlock()
		fn()
	})
	t.pending[name] = e
	return true
}

// Cancel drops the pending timer with the given name, if any.
func (t *Timers) Cancel(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.pending, name)
	return true
}

func (t *Timers) Pending(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[name]
	return ok
}

// Stop cancels everything and refuses new timers.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for name, e := range t.pending {
		e.timer.Stop()
		delete(t.pending, name)
	}
}
