package pool

import "time"

// Backoff returns the wait before the next connect attempt after attempts
// consecutive failures: base, doubled per further failure, capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
