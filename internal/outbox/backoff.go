package outbox

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// BaseBackoff and CapBackoff are the retry policy constants from spec §4.C.
	BaseBackoff = 1 * time.Second
	CapBackoff  = 30 * time.Second
)

// backoffForRetryCount returns the delay spec §8 property 5 requires once
// an entry's retry_count has just become n: min(base*2^n, cap). go-retry's
// Exponential yields base*2^(k-1) on its k-th call, so the n-th exponential
// step is the (n+1)-th call; this drives a freshly constructed backoff that
// many times and keeps the last value, capped via retry.WithCappedDuration
// so a runaway retry_count (e.g. after a long offline period) can never
// overflow past the 30s ceiling.
func backoffForRetryCount(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	b, err := retry.NewExponential(BaseBackoff)
	if err != nil {
		// NewExponential only errors on a non-positive base, which BaseBackoff
		// never is; a panic here would indicate a programmer error in this
		// package, not a runtime condition callers need to handle.
		panic(err)
	}
	b = retry.WithCappedDuration(CapBackoff, b)

	var delay time.Duration
	for i := 0; i < n+1; i++ {
		next, stop := b.Next()
		if stop {
			return CapBackoff
		}
		delay = next
	}
	if delay > CapBackoff {
		delay = CapBackoff
	}
	return delay
}
