// Package traffic keeps sliding windows of request outcomes. Health uses it to
// report overload (rate-limit denials) and degradation (prediction failures).
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a recorded request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeDenied
)

const retention = 5 * time.Minute

var defaultTracker = NewTracker()

// RecordSuccess records a successful prediction round-trip.
func RecordSuccess() { defaultTracker.Record(OutcomeSuccess) }

// RecordError records a failed prediction round-trip (service failure, timeout).
func RecordError() { defaultTracker.Record(OutcomeError) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(OutcomeDenied) }

// RequestCount returns all outcomes within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.Count(OutcomeDenied, window) }

// ErrorRate returns (errors, successes+errors) within the window.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears the default tracker. For tests only.
func Reset() { defaultTracker.Reset() }

// Tracker maintains per-outcome timestamp windows.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times map[Outcome][]time.Time
}

// NewTracker returns an empty Tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now, times: make(map[Outcome][]time.Time)}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

// RequestCount returns the number of outcomes of any kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, ts := range t.times {
		n += countSince(ts, cutoff)
	}
	return n
}

// ErrorRate returns (errors, total) within the window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errors = countSince(t.times[OutcomeError], cutoff)
	return errors, errors + countSince(t.times[OutcomeSuccess], cutoff)
}

// Reset clears all outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = make(map[Outcome][]time.Time)
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Caller holds mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o, times := range t.times {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
