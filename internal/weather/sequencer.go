package weather

import (
	"context"
	"sync"
)

// Ticket identifies one weather request. Tickets increase monotonically.
type Ticket uint64

// Sequencer orders weather requests so only the newest one may apply its
// result. Issuing a ticket cancels the context of the request it supersedes.
type Sequencer struct {
	mu     sync.Mutex
	latest Ticket
	cancel context.CancelFunc
}

// Next issues a new ticket and a context derived from parent for its fetch.
// The previous request's context is cancelled.
func (s *Sequencer) Next(parent context.Context) (context.Context, Ticket) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.latest++
	s.cancel = cancel
	return ctx, s.latest
}

// Apply runs fn if t is still the latest ticket and reports whether it ran.
// fn runs under the sequencer lock, so no newer ticket can be issued while a
// result is being applied.
func (s *Sequencer) Apply(t Ticket, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t != s.latest {
		return false
	}
	fn()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

// Latest returns the most recently issued ticket.
func (s *Sequencer) Latest() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
