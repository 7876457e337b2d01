package voice

import (
	"sync"
	"time"
)

// TimerSlot holds at most one pending timer. Arming cancels any previous
// instance first, so duplicate in-flight timers cannot exist for a slot.
type TimerSlot struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Arm cancels the previous timer, if any, and schedules fn after d.
func (s *TimerSlot) Arm(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timer == t {
			s.timer = nil
		}
		s.mu.Unlock()
		fn()
	})
	s.timer = t
}

// Cancel stops any pending timer. Safe to call on an empty slot.
func (s *TimerSlot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Armed reports whether a timer is pending.
func (s *TimerSlot) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
