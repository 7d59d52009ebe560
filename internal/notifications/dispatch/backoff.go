package dispatch

import "time"

const (
	DefaultMaxAttempts      = 3
	DefaultBaseBackoff      = time.Minute
	DefaultFallbackCooldown = 10 * time.Minute
	DefaultLease            = 5 * time.Minute
)

// Policy bounds retries per channel and spaces fallback between channels.
type Policy struct {
	MaxAttempts      int
	BaseBackoff      time.Duration
	FallbackCooldown time.Duration
	// Lease is how long a claimed task stays hidden from other workers.
	Lease time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      DefaultMaxAttempts,
		BaseBackoff:      DefaultBaseBackoff,
		FallbackCooldown: DefaultFallbackCooldown,
		Lease:            DefaultLease,
	}
}

// Backoff is the wait before attempt+1 after attempt failed: base, 2·base, 4·base...
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseBackoff << uint(attempt-1)
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.FallbackCooldown < 0 {
		p.FallbackCooldown = d.FallbackCooldown
	}
	if p.Lease <= 0 {
		p.Lease = d.Lease
	}
	return p
}
