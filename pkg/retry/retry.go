package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	apperrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Policy controls attempt count and backoff shape. The zero value is the
// standard transient policy: 3 attempts, 250ms doubling, 2s cap.
type Policy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = defaultMaximumBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = p.InitialBackoff
	}
	return p
}

// Transient runs fn, retrying with exponential backoff only when the returned
// error's code metadata marks it retryable. Data-quality and other permanent
// failures surface immediately.
func Transient(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	p := policy.normalized()

	backoff := retry.NewExponential(p.InitialBackoff)
	backoff = retry.WithCappedDuration(p.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(p.MaxAttempts-1, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if apperrors.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
