package scorecard

import (
	"sync"
	"time"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

// progressSaver debounces progress saves and keeps at most one in flight.
// Only the newest snapshot is kept while a save is outstanding, so the
// server sees snapshots in edit order and a stale one never lands last.
type progressSaver struct {
	delay time.Duration
	save  func(tabulation.Progress) error
	onErr func(error)

	mu       sync.Mutex
	cond     *sync.Cond
	timer    *time.Timer
	pending  *tabulation.Progress
	inflight bool
	stopped  bool
}

func newProgressSaver(delay time.Duration, save func(tabulation.Progress) error, onErr func(error)) *progressSaver {
	s := &progressSaver{delay: delay, save: save, onErr: onErr}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Schedule replaces the pending snapshot and restarts the delay.
func (s *progressSaver) Schedule(p tabulation.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = &p
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.drain)
		return
	}
	s.timer.Reset(s.delay)
}

func (s *progressSaver) drain() {
	for {
		s.mu.Lock()
		if s.stopped || s.inflight || s.pending == nil {
			s.mu.Unlock()
			return
		}
		p := *s.pending
		s.pending = nil
		s.inflight = true
		s.mu.Unlock()

		err := s.save(p)

		s.mu.Lock()
		s.inflight = false
		s.cond.Broadcast()
		s.mu.Unlock()

		if err != nil && s.onErr != nil {
			s.onErr(err)
		}
	}
}

// Flush waits for the in-flight save and sends any pending snapshot now.
func (s *progressSaver) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	for s.inflight {
		s.cond.Wait()
	}
	if s.stopped || s.pending == nil {
		s.mu.Unlock()
		return nil
	}
	p := *s.pending
	s.pending = nil
	s.inflight = true
	s.mu.Unlock()

	err := s.save(p)

	s.mu.Lock()
	s.inflight = false
	s.cond.Broadcast()
	s.mu.Unlock()
	return err
}

// Stop drops any pending snapshot. A save already in flight is not aborted.
func (s *progressSaver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
	}
}
