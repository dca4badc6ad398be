package wsengine

import (
	"time"
)

// Timer is a handle to a repeating action scheduled with ScheduleRepeating. It
// is only valid for the Manager that returned it.
type Timer struct {
	period    time.Duration
	next      time.Time
	fn        func()
	cancelled bool
}

// ScheduleRepeating arranges for fn to run on the polling goroutine every period.
// If runNow is true the first run happens on the next Poll; otherwise after one
// period. Missed periods are not replayed.
func (m *Manager) ScheduleRepeating(period time.Duration, runNow bool, fn func()) *Timer {
	if period <= 0 {
		m.Panicf("ScheduleRepeating: non-positive period %s", period)
	}
	t := &Timer{
		period: period,
		next:   time.Now(),
		fn:     fn,
	}
	if !runNow {
		t.next = t.next.Add(period)
	}
	m.timerLock.Lock()
	m.timers = append(m.timers, t)
	m.timerLock.Unlock()
	m.wakeUp()
	return t
}

// Cancel stops a timer. It returns true if the timer was active, and false if it
// was nil, unknown or already cancelled.
func (m *Manager) Cancel(t *Timer) bool {
	if t == nil {
		return false
	}
	m.timerLock.Lock()
	defer m.timerLock.Unlock()
	if t.cancelled {
		return false
	}
	for i, x := range m.timers {
		if x == t {
			t.cancelled = true
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

// nextTimerDue returns the earliest scheduled run time, if any timer is active
func (m *Manager) nextTimerDue() (time.Time, bool) {
	m.timerLock.Lock()
	defer m.timerLock.Unlock()
	var due time.Time
	for _, t := range m.timers {
		if due.IsZero() || t.next.Before(due) {
			due = t.next
		}
	}
	return due, !due.IsZero()
}

// runTimers runs every timer due at or before now and returns how many ran.
// Callbacks run without the timer lock held, so they may schedule or cancel.
func (m *Manager) runTimers(now time.Time) int {
	m.timerLock.Lock()
	var due []*Timer
	for _, t := range m.timers {
		if !t.next.After(now) {
			due = append(due, t)
		}
	}
	m.timerLock.Unlock()

	n := 0
	for _, t := range due {
		m.timerLock.Lock()
		if t.cancelled {
			m.timerLock.Unlock()
			continue
		}
		t.next = t.next.Add(t.period)
		if !t.next.After(now) {
			t.next = now.Add(t.period)
		}
		m.timerLock.Unlock()
		t.fn()
		n++
	}
	return n
}
