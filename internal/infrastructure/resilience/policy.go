package resilience

import "time"

// Policy configures the circuit breaker guarding one upstream. Calls are never
// retried: a failed completion fails the request that issued it, and the
// breaker only decides whether later requests reach the upstream at all.
type Policy struct {
	Enabled      bool
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
	// HalfOpenMaxCalls probes are let through once OpenTimeout has passed.
	HalfOpenMaxCalls uint32
	// Interval resets closed-state counts periodically; zero keeps them until
	// the breaker trips.
	Interval time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Enabled:          true,
		MinRequests:      5,
		FailureRatio:     0.6,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
		Interval:         time.Minute,
	}
}

func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenMaxCalls == 0 {
		p.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	return p
}
