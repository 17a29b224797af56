package external

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// RetryPolicy configures retries for every remote transfer, HTTP or not.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the defaults used when no configuration is given.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    2 * time.Second,
		MaxWait:    time.Minute,
	}
}

// NoRetry is a policy that makes exactly one attempt.
func NoRetry() RetryPolicy { return RetryPolicy{} }

// Backoff returns the wait before retry number attempt (0-based): a uniform
// draw from [MinWait, min(MaxWait, MinWait*2^attempt)].
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := float64(p.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(p.MaxWait); base > maxWait {
		base = maxWait
	}
	minWait := float64(p.MinWait)
	if base <= minWait {
		return p.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that RetryPolicy.Do gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, returns a Permanent error, ctx ends, or the
// retries are spent. Failure is always a *types.TransferError for target that
// carries the number of attempts and the cause of the last one.
func (p RetryPolicy) Do(ctx context.Context, target string, op func(ctx context.Context) error) error {
	maxAttempts := 1 + max(p.MaxRetries, 0)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) || errors.Is(err, context.Canceled) {
			break
		}

		if attempt < maxAttempts-1 {
			if err := sleepCtx(ctx, p.Backoff(attempt)); err != nil {
				break
			}
		}
	}

	var perm *permanentError
	if errors.As(lastErr, &perm) {
		lastErr = perm.err
	}
	return &types.TransferError{
		URL:      target,
		Attempts: attempts,
		Reason:   upstreamReason(lastErr),
		Err:      lastErr,
	}
}

// upstreamReason keeps the specific upstream code of a coded error.
func upstreamReason(err error) types.ErrorCode {
	code := types.CodeOf(err)
	if strings.HasPrefix(string(code), "upstream_") {
		return code
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
