package jobsched

import "time"

// Backoff returns the delay before the next attempt of a job that has
// already failed numFailures times. The first retry waits initial.
//
//	linear:      initial * (numFailures+1)
//	exponential: initial * 2^numFailures
//
// The result never exceeds MaxBackoff.
func Backoff(initial time.Duration, numFailures int, policy BackoffPolicy) time.Duration {
	if initial <= 0 {
		return 0
	}
	if numFailures < 0 {
		numFailures = 0
	}
	attempts := int64(numFailures) + 1

	switch policy {
	case BackoffLinear:
		if attempts > int64(MaxBackoff/initial) {
			return MaxBackoff
		}
		return min(initial*time.Duration(attempts), MaxBackoff)
	default:
		d := initial
		for i := int64(1); i < attempts; i++ {
			if d >= MaxBackoff {
				return MaxBackoff
			}
			d *= 2
		}
		return min(d, MaxBackoff)
	}
}
