// Package control holds the poll loop's failure handling: a circuit
// breaker over transport errors and capped exponential backoff.
package control

import (
	"sync"
	"time"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker is a minimal per-error-class breaker. It is safe for
// concurrent use.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Allow returns whether new work is allowed at this instant. An open
// breaker turns half-open once the cooldown has elapsed.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// RecordSuccess closes the breaker and forgets past failures. It
// reports whether the state changed.
func (c *CircuitBreaker) RecordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.state != CircuitClosed
	c.state = CircuitClosed
	c.openedClass = ""
	c.failures = map[string]int{}
	return changed
}

// RecordFailure counts an error in the given class and reports whether
// the breaker has just opened.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errClass == "" {
		errClass = "unknown"
	}
	if c.state == CircuitHalfOpen {
		c.open(errClass, now)
		return true
	}
	c.failures[errClass]++
	if c.state != CircuitOpen && c.failures[errClass] >= c.Threshold {
		c.open(errClass, now)
		return true
	}
	return false
}

// Failures returns the consecutive failure count for errClass.
func (c *CircuitBreaker) Failures(errClass string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[errClass]
}

func (c *CircuitBreaker) OpenedClass() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openedClass
}

func (c *CircuitBreaker) open(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}
