package transport

import "time"

const (
	backoffBase = time.Second
	backoffMax  = 10 * time.Second

	// MaxReconnectAttempts is the ceiling of consecutive failed
	// reconnection attempts before the transport gives up.
	MaxReconnectAttempts = 5
)

// Delay returns the wait before reconnection attempt n (1-based):
// 1s, 2s, 4s, 8s, then capped at 10s.
func Delay(n int) time.Duration {
	return delayFor(backoffBase, backoffMax, n)
}

func delayFor(base, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
