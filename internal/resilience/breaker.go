// Package resilience provides reliability patterns for calls into external processes.
package resilience

import "sync"

// Breaker counts consecutive failures and trips once maxFailures is reached.
// A tripped breaker stays tripped until Reset: the owner reacts to the trip
// (retiring the analyzer process) and resets the breaker once a fresh
// process is running.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	tripped     bool
}

// NewBreaker creates a breaker that trips after maxFailures consecutive failures.
func NewBreaker(maxFailures int) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{maxFailures: maxFailures}
}

// Record registers the outcome of a call and reports whether this failure
// tripped the breaker. A success clears the count.
func (b *Breaker) Record(failed bool) (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.failures = 0
		b.tripped = false
		return false
	}

	b.failures++
	if b.tripped || b.failures < b.maxFailures {
		return false
	}
	b.tripped = true
	return true
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset clears the failure count and the trip.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.tripped = false
}
