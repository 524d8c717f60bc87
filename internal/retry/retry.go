// Package retry wraps fallible external calls with bounded retries and
// exponential backoff. Rate-limited calls honor a service-supplied
// retry-after duration when present and fall back to a computed delay
// otherwise; the two branches are kept explicit so the backoff law stays
// independently testable.
package retry

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/voceria/kbpipeline/internal/domain"
)

// Policy controls retry behavior for a class of external calls.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// TransientBase scales the exponential delay for transient errors.
	TransientBase   time.Duration
	TransientJitter time.Duration
	TransientCap    time.Duration

	// RateLimitBase scales the exponential delay for 429 responses that
	// carry no retry-after hint.
	RateLimitBase   time.Duration
	RateLimitJitter time.Duration
	RateLimitCap    time.Duration

	// rand overrides the jitter source in tests. Nil uses the global source.
	rand *rand.Rand
}

// DefaultPolicy returns the standard policy for embedding and scrape calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		TransientBase:   1 * time.Second,
		TransientJitter: 1 * time.Second,
		TransientCap:    30 * time.Second,
		RateLimitBase:   2 * time.Second,
		RateLimitJitter: 2 * time.Second,
		RateLimitCap:    120 * time.Second,
	}
}

// WithRand returns a copy of the policy using r for jitter. Test use only.
func (p Policy) WithRand(r *rand.Rand) Policy {
	p.rand = r
	return p
}

// Delay computes how long to wait before the attempt following attempt
// (zero-based). A retry-after hint on the error wins outright; otherwise the
// delay grows exponentially with bounded jitter, capped per error class.
func (p Policy) Delay(attempt int, err error) time.Duration {
	if ra, ok := domain.RetryAfterHint(err); ok {
		return ra
	}

	base, jitter, limit := p.TransientBase, p.TransientJitter, p.TransientCap
	if domain.ErrorCode(err) == domain.ErrCodeRateLimited {
		base, jitter, limit = p.RateLimitBase, p.RateLimitJitter, p.RateLimitCap
	}

	if attempt > 30 {
		attempt = 30 // avoid shift overflow; the cap dominates long before
	}
	d := time.Duration(1<<uint(attempt)) * base
	if d > limit || d < 0 {
		return limit
	}
	d += p.jitterDuration(jitter)
	if d > limit {
		return limit
	}
	return d
}

func (p Policy) jitterDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if p.rand != nil {
		return time.Duration(p.rand.Int63n(int64(max)))
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Do runs op, retrying on rate-limited and transient failures up to the
// policy's attempt budget. Permanent errors propagate immediately. When
// attempts are exhausted, the last error is returned tagged
// RETRIES_EXHAUSTED.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if domain.ErrorCode(err) == domain.ErrCodePermanent {
			return err
		}

		lastErr = err
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt, err)):
		}
	}

	return domain.NewDomainErrorWithCause(domain.ErrCodeRetriesExhausted,
		"retries exhausted", lastErr)
}

// ParseRetryAfter parses a Retry-After header value, which is either a
// delay in whole seconds or an HTTP-date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
