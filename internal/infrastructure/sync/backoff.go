package sync

import "time"

// Backoff returns the delay before the given attempt runs again: exponential
// doubling from base, capped. Attempt 1 waits base, attempt 2 waits 2*base,
// and so on.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap || d <= 0 {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
