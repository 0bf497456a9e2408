package batch

import (
	"sync"
	"time"
)

// Timer is a pending delayed callback
type Timer interface {
	// Stop prevents the callback from firing and reports whether it was still pending
	Stop() bool
}

// Scheduler runs callbacks after a delay and reports the current time
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

// RealScheduler schedules on the wall clock
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (RealScheduler) Now() time.Time {
	return time.Now()
}

// maxManualFires bounds RunAll against callbacks that keep rescheduling themselves
const maxManualFires = 10000

// ManualScheduler is a Scheduler whose clock only moves when told to.
// Callbacks run on the caller's goroutine, outside the scheduler's lock.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	s   *ManualScheduler
	due time.Time
	seq int
	f   func()
}

// NewManualScheduler creates a manual scheduler whose clock starts at start
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTimer{s: s, due: s.now.Add(d), seq: s.seq, f: f}
	s.pending = append(s.pending, t)
	return t
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of timers that have not fired or been stopped
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Advance moves the clock forward by d, firing every timer that falls due in
// order, including timers scheduled by earlier callbacks. It returns the number fired.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	fired := 0
	for {
		s.mu.Lock()
		t := s.popNext(&target)
		if t == nil {
			s.now = target
			s.mu.Unlock()
			return fired
		}
		s.now = t.due
		s.mu.Unlock()

		t.f()
		fired++
	}
}

// RunAll fires timers in due order until none remain, moving the clock to each
func (s *ManualScheduler) RunAll() int {
	fired := 0
	for fired < maxManualFires {
		s.mu.Lock()
		t := s.popNext(nil)
		if t == nil {
			s.mu.Unlock()
			break
		}
		s.now = t.due
		s.mu.Unlock()

		t.f()
		fired++
	}
	return fired
}

// popNext removes and returns the earliest pending timer due at or before
// limit (any timer when limit is nil). Callers hold s.mu.
func (s *ManualScheduler) popNext(limit *time.Time) *manualTimer {
	idx := -1
	for i, t := range s.pending {
		if limit != nil && t.due.After(*limit) {
			continue
		}
		if idx == -1 || t.due.Before(s.pending[idx].due) ||
			(t.due.Equal(s.pending[idx].due) && t.seq < s.pending[idx].seq) {
			idx = i
		}
	}
	if idx == -1 {
		return nil
	}
	t := s.pending[idx]
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for i, p := range t.s.pending {
		if p == t {
			t.s.pending = append(t.s.pending[:i], t.s.pending[i+1:]...)
			return true
		}
	}
	return false
}
