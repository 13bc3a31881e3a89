package pipeline

import "sync"

// StopSignal is a write-once flag shared by all pipeline participants.
// Once set it stays set.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopSignal returns an unset signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Set raises the signal. Calling it again has no effect.
func (s *StopSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has been raised. It never blocks.
func (s *StopSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the signal is raised.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ch
}
