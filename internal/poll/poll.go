// Package poll waits for a remotely reported progress percentage to reach
// completion.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Complete is the percentage at which a job is considered finished.
const Complete = 100

// ErrTimeout is returned when MaxWait elapses before completion.
var ErrTimeout = errors.New("polling timed out before completion")

// StatusFunc reports the current progress percentage.
type StatusFunc func(ctx context.Context) (int, error)

// TickFunc observes a progress value that is still below Complete.
type TickFunc func(percent int)

type Options struct {
	// Interval is the fixed delay between status queries. Zero polls as
	// fast as the status call returns.
	Interval time.Duration

	// MaxWait bounds the whole wait. Zero waits indefinitely.
	MaxWait time.Duration
}

// Until queries status until it reports Complete or more. The first query is
// immediate; later ones are paced by Interval. onTick, if non-nil, sees every
// value below Complete. The last observed percentage is always returned.
func Until(ctx context.Context, opts Options, status StatusFunc, onTick TickFunc) (int, error) {
	if status == nil {
		return 0, errors.New("poll: nil status func")
	}

	parent := ctx
	if opts.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxWait)
		defer cancel()
	}

	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	last := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return last, waitErr(parent, opts, err)
		}

		pct, err := status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, waitErr(parent, opts, ctx.Err())
			}
			return last, fmt.Errorf("poll status: %w", err)
		}
		last = pct

		if pct >= Complete {
			return pct, nil
		}
		if onTick != nil {
			onTick(pct)
		}
	}
}

// waitErr tells a caller cancellation apart from our own MaxWait expiring.
// The limiter refuses early when the next tick would land past the
// deadline, so this also covers that case.
func waitErr(parent context.Context, opts Options, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if opts.MaxWait > 0 {
		return fmt.Errorf("after %s: %w", opts.MaxWait, ErrTimeout)
	}
	return err
}
