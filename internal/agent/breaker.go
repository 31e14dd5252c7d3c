package agent

import (
	"sync"
	"time"
)

// BreakerState is the state of one provider's breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

type breaker struct {
	failures int
	openedAt time.Time
	state    BreakerState
}

// BreakerRegistry tracks one breaker per provider name. It is owned by
// whoever issues provider calls; nothing is process-global.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreakerRegistry creates a registry. Non-positive arguments take the
// defaults.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &BreakerRegistry{
		breakers:  make(map[string]*breaker),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (r *BreakerRegistry) get(name string) *breaker {
	b, ok := r.breakers[name]
	if !ok {
		b = &breaker{state: BreakerClosed}
		r.breakers[name] = b
	}
	return b
}

// Allow returns ErrCircuitOpen while the breaker is open. Once the cooldown
// has passed it lets one trial call through in the half-open state.
func (r *BreakerRegistry) Allow(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.get(name)
	switch b.state {
	case BreakerOpen:
		if r.now().Sub(b.openedAt) < r.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		return nil
	case BreakerHalfOpen:
		return ErrCircuitOpen
	}
	return nil
}

// Success closes the breaker and clears its failure count.
func (r *BreakerRegistry) Success(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.get(name)
	b.failures = 0
	b.state = BreakerClosed
}

// Failure records a failed call, opening the breaker at the threshold or
// immediately when a half-open trial fails.
func (r *BreakerRegistry) Failure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.get(name)
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= r.threshold {
		b.state = BreakerOpen
		b.openedAt = r.now()
	}
}

// State returns the breaker state for name.
func (r *BreakerRegistry) State(name string) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		return BreakerClosed
	}
	if b.state == BreakerOpen && r.now().Sub(b.openedAt) >= r.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forgets every breaker.
func (r *BreakerRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*breaker)
}
