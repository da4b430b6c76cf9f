package clock

import (
	"sync"
	"time"
)

// Virtual is a manually-advanced Clock for deterministic tests. Advance
// fires every pending timer/After channel whose deadline has elapsed.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*virtualTimer
}

// NewVirtual returns a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d, firing any timer whose deadline has
// now elapsed (in the order the timers were armed).
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	now := v.now
	var fire []*virtualTimer
	remaining := v.waiters[:0]
	for _, w := range v.waiters {
		if w.stopped {
			continue
		}
		if !now.Before(w.deadline) {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining
	v.mu.Unlock()

	for _, w := range fire {
		select {
		case w.ch <- now:
		default:
		}
	}
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	return v.NewTimer(d).C()
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	w := &virtualTimer{
		deadline: v.now.Add(d),
		ch:       make(chan time.Time, 1),
		owner:    v,
	}
	v.waiters = append(v.waiters, w)
	return w
}

type virtualTimer struct {
	deadline time.Time
	ch       chan time.Time
	stopped  bool
	owner    *Virtual
}

func (t *virtualTimer) C() <-chan time.Time { return t.ch }

func (t *virtualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	wasRunning := !t.stopped
	t.stopped = true
	return wasRunning
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	wasRunning := !t.stopped
	t.stopped = false
	t.deadline = t.owner.now.Add(d)
	t.owner.waiters = append(t.owner.waiters, t)
	return wasRunning
}
