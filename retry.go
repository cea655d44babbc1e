package prostlog

import (
	"context"
	"time"
)

// RetryOptions tunes WithRetry.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// OnRetry, if set, is called before each retry with the attempt number
	// (starting at 1) and the error that triggered it.
	OnRetry func(attempt int, err error)
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultRetryBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultRetryMaxDelay
	}
	return o
}

// WithRetry runs fn with capped exponential backoff. Permanent rejections
// and context cancellation stop immediately; the last error is returned
// once retries are exhausted.
func WithRetry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	var lastErr error
	delay := opts.BaseDelay
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, lastErr)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if isPermanentRejection(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
