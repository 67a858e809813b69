package scheduler

import (
	"sync"
	"time"
)

// BreakerState is a breaker's position: closed (traffic flows), open
// (traffic rejected), or half-open (every call is let through as a probe;
// ProbeQuota successes close the breaker and one failure re-opens it).
type BreakerState uint32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes when a breaker trips and how it recovers.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures open the breaker.
	FailureThreshold int
	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration
	// ProbeQuota is how many successful probes close a half-open breaker.
	ProbeQuota int
}

// Breaker guards one external service kind. Each of the pipeline's
// backends ("asset-fetch", "texture-fetch", "baked-upload") gets its own,
// so a dead asset service trips its breaker without starving the texture
// fetch or upload stages of fan-out budget.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int       // consecutive, resets on success
	probes   int       // successes while half-open
	openedAt time.Time // when the breaker last tripped
}

// Allow reports whether a call should be attempted. An open breaker that
// has cooled for ResetTimeout flips to half-open and admits the call as a
// probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	if time.Since(b.openedAt) < b.cfg.ResetTimeout {
		return false
	}
	b.state = StateHalfOpen
	b.probes = 0
	return true
}

// Observe folds one call's outcome into the breaker: nil closes it back
// up (after ProbeQuota successful probes when half-open), an error counts
// toward the trip threshold and re-opens a half-open breaker immediately.
func (b *Breaker) Observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.probes++
			if b.probes >= b.cfg.ProbeQuota {
				b.state = StateClosed
			}
		}
		return
	}

	b.failures++
	b.openedAt = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.probes = 0
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
}

// State returns the breaker's current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet hands out one lazily-created Breaker per service kind, all
// sharing the same config.
type BreakerSet struct {
	cfg BreakerConfig

	mu  sync.Mutex
	set map[string]*Breaker
}

// NewBreakerSet creates an empty set with the given shared config.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.ProbeQuota < 1 {
		cfg.ProbeQuota = 1
	}
	return &BreakerSet{cfg: cfg, set: make(map[string]*Breaker)}
}

// For returns the breaker guarding kind, creating it on first use.
func (s *BreakerSet) For(kind string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.set[kind]
	if b == nil {
		b = &Breaker{cfg: s.cfg}
		s.set[kind] = b
	}
	return b
}
