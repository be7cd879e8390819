package workspace

import (
	"sync"
	"time"
)

// TimerScheduler fires cleanups from in-process timers.
type TimerScheduler struct {
	fire func(path string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerScheduler(fire func(path string)) *TimerScheduler {
	return &TimerScheduler{
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

func (s *TimerScheduler) Schedule(path string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(path, delay)
	return nil
}

// scheduleLocked must be called with mu held. A replaced timer whose
// callback is already waiting on mu finds itself gone from the map and
// neither fires nor removes its replacement.
func (s *TimerScheduler) scheduleLocked(path string, delay time.Duration) {
	if t, ok := s.timers[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current := s.timers[path] == t
		if current {
			delete(s.timers, path)
		}
		s.mu.Unlock()
		if current {
			s.fire(path)
		}
	})
	s.timers[path] = t
}

func (s *TimerScheduler) Cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[path]; ok {
		t.Stop()
		delete(s.timers, path)
	}
}

// Pending returns the number of armed timers.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer without firing it.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, t := range s.timers {
		t.Stop()
		delete(s.timers, path)
	}
}
