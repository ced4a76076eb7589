package harness

import "time"

// Policy controls the remote call retry loop.
type Policy struct {
	RetryCount     int           // additional attempts after the first
	RetryDelay     time.Duration // fixed delay between attempts
	AttemptTimeout time.Duration // per provider call
}

// DefaultPolicy returns the defaults: two retries one second apart, 60s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		RetryCount:     2,
		RetryDelay:     time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// Attempts is the total number of provider calls allowed.
func (p Policy) Attempts() int { return max(p.RetryCount, 0) + 1 }

// Budget bounds the total wait across all attempts and delays.
// Zero means unbounded, which happens when AttemptTimeout is unset.
func (p Policy) Budget() time.Duration {
	if p.AttemptTimeout <= 0 {
		return 0
	}
	n := time.Duration(max(p.RetryCount, 0))
	return (n+1)*p.AttemptTimeout + n*max(p.RetryDelay, 0)
}
