// Package abort provides the session-wide cancellation signal shared by
// the turn loop, the tool scheduler, and provider stream readers.
package abort

import "sync"

// Signal is a resettable cancellation flag. Abort is observed through
// either the Aborted predicate or the Done channel, which makes it usable
// in select loops alongside context cancellation.
type Signal struct {
	mu      sync.Mutex
	aborted bool
	done    chan struct{}
}

// New returns a fresh, un-aborted signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Abort trips the signal. Safe to call more than once.
func (s *Signal) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}
	s.aborted = true
	close(s.done)
}

// Reset re-arms the signal for a new user turn. It does not un-cancel
// anything that already observed the previous abort.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aborted {
		return
	}
	s.aborted = false
	s.done = make(chan struct{})
}

// Aborted reports whether the signal has been tripped.
func (s *Signal) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Done returns a channel closed when the signal trips. The channel is
// replaced on Reset, so callers in long loops should re-fetch it per
// iteration.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Child derives a signal that trips when the parent trips. Tool
// executions receive a child so a single execution can be cancelled
// without tearing down the session signal. Callers should Abort the
// child once the guarded work completes to release the watcher.
func (s *Signal) Child() *Signal {
	c := New()
	parentDone := s.Done()
	go func() {
		select {
		case <-parentDone:
			c.Abort()
		case <-c.Done():
		}
	}()
	return c
}
