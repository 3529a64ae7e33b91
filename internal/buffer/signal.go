package buffer

import (
	"sync"
	"time"
)

// signal is a counting semaphore with an initial count of zero.
//
// Every post adds one unit that exactly one waiter consumes. The wake channel
// carries at most one token; a waiter that consumes a unit while more remain
// passes the token on so that concurrent waiters are not stranded. shut
// releases every current and future waiter.
type signal struct {
	mu    sync.Mutex
	count int
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSignal() *signal {
	return &signal{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *signal) post() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.notify()
}

func (s *signal) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// tryWait consumes one unit without blocking.
func (s *signal) tryWait() bool {
	s.mu.Lock()
	if s.count == 0 {
		s.mu.Unlock()
		return false
	}
	s.count--
	more := s.count > 0
	s.mu.Unlock()

	if more {
		s.notify()
	}
	return true
}

// wait blocks until a unit is available. It returns false once the signal
// has been shut and no unit remains.
func (s *signal) wait() bool {
	for {
		if s.tryWait() {
			return true
		}
		select {
		case <-s.wake:
		case <-s.done:
			return s.tryWait()
		}
	}
}

// waitTimeout is wait bounded by d. It returns false on timeout or shutdown.
func (s *signal) waitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		if s.tryWait() {
			return true
		}
		select {
		case <-s.wake:
		case <-timer.C:
			return s.tryWait()
		case <-s.done:
			return s.tryWait()
		}
	}
}

// pending reports the number of unconsumed units.
func (s *signal) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *signal) shut() {
	s.once.Do(func() { close(s.done) })
}
