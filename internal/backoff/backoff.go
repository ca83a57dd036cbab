package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Jitter returns an exponential delay with full jitter, never below minWait.
//
//	delay = max(minWait, rand(0, min(maxWait, minWait * 2^attempt)))
func Jitter(attempt int, minWait, maxWait time.Duration) time.Duration {
	if minWait <= 0 || maxWait <= minWait {
		return max(minWait, maxWait, 0)
	}
	exp := float64(minWait) * math.Pow(2, float64(attempt))
	if exp > float64(maxWait) || exp <= 0 { // overflow guard
		exp = float64(maxWait)
	}
	jitter := time.Duration(rand.Int64N(int64(exp)))
	if jitter < minWait {
		jitter = minWait
	}
	return jitter
}
