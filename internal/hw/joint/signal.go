package joint

import (
	"sync"
	"sync/atomic"
)

// Signal is a cancellation flag shared by every joint of the robot.
// Once raised it stays raised until Clear is called.
type Signal struct {
	raised atomic.Bool

	mu sync.Mutex
	ch chan struct{}
}

// Raise sets the flag and wakes every sleeping motion task.
func (s *Signal) Raise() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raised.Load() {
		return
	}
	s.raised.Store(true)
	close(s.chanLocked())
}

// Clear resets the flag so new motions run again.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raised.Load() {
		s.raised.Store(false)
		s.ch = nil
	}
}

// Raised reports the flag. A nil Signal is never raised.
func (s *Signal) Raised() bool {
	return s != nil && s.raised.Load()
}

// Done returns a channel closed while the flag is raised. A nil Signal
// returns a nil channel.
func (s *Signal) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chanLocked()
}

func (s *Signal) chanLocked() chan struct{} {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}
