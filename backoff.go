package eventrelay

import (
	"math"
	"time"
)

// BackoffStrategy decides when a failed row may be claimed again. attempt is
// the attempt count after the failure, starting at 1.
type BackoffStrategy interface {
	CalculateNextAttempt(attempt int) time.Time
}

// ExponentialBackoff waits Base * 2^(attempt-1), capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration

	now func() time.Time
}

func DefaultBackoffStrategy() *ExponentialBackoff {
	return &ExponentialBackoff{Base: defaultBaseDelay, Max: defaultMaxDelay}
}

func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Base <= 0 {
		return 0
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
		// overflow
		if delay <= 0 {
			if b.Max > 0 {
				return b.Max
			}
			return math.MaxInt64
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

func (b *ExponentialBackoff) CalculateNextAttempt(attempt int) time.Time {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	return now().UTC().Add(b.Delay(attempt))
}

// ConstantBackoff retries after the same delay every time. A zero delay makes
// a failed row claimable on the next batch.
type ConstantBackoff time.Duration

func (b ConstantBackoff) CalculateNextAttempt(int) time.Time {
	return time.Now().UTC().Add(time.Duration(b))
}
