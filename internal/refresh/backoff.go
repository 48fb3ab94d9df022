package refresh

import (
	"errors"
	"math/rand"
	"time"

	"github.com/pollenlabs/pollenwatch/pollen"
)

// maxRetries is the number of in-cycle retries after the initial attempt.
// Exactly one: a transient glitch gets a second chance within the same
// cycle, anything longer-lived waits for the next scheduled refresh.
const maxRetries = 1

const (
	// rateLimitFallbackDelay applies when the upstream rejects with a quota
	// error but does not say how long to wait.
	rateLimitFallbackDelay = 2 * time.Second

	// rateLimitMaxDelay caps upstream-advertised waits so a hostile or
	// misconfigured Retry-After cannot stall a cycle.
	rateLimitMaxDelay = 5 * time.Second

	rateLimitJitterSpan = 400 * time.Millisecond

	transientBaseDelay  = 800 * time.Millisecond
	transientJitterSpan = 300 * time.Millisecond
)

// backoffPolicy computes in-cycle retry delays from classified fetch
// failures. jitter returns a value in [0, 1); it is injected so tests can
// pin delays.
type backoffPolicy struct {
	jitter func() float64
}

func newBackoffPolicy(jitter func() float64) backoffPolicy {
	if jitter == nil {
		jitter = rand.Float64
	}
	return backoffPolicy{jitter: jitter}
}

// delay reports whether the failed attempt (0-based) should be retried
// within the cycle and, if so, how long to wait first.
//
// Quota rejections honor the upstream-advertised wait, clamped to
// [rateLimitMaxDelay]. Timeouts and network or 5xx failures back off
// exponentially from [transientBaseDelay]. Authentication, malformed-payload
// and configuration failures never retry: repeating the same request cannot
// change the outcome.
func (p backoffPolicy) delay(err error, attempt int) (time.Duration, bool) {
	if attempt >= maxRetries {
		return 0, false
	}

	var rateLimited *pollen.RateLimitError
	if errors.As(err, &rateLimited) {
		d := rateLimited.RetryAfter
		if d <= 0 {
			d = rateLimitFallbackDelay
		}
		if d > rateLimitMaxDelay {
			d = rateLimitMaxDelay
		}
		return d + time.Duration(p.jitter()*float64(rateLimitJitterSpan)), true
	}

	var unreachable *pollen.UnreachableError
	if errors.As(err, &unreachable) {
		d := transientBaseDelay * time.Duration(1<<attempt)
		return d + time.Duration(p.jitter()*float64(transientJitterSpan)), true
	}

	return 0, false
}
