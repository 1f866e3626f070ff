// Package retry runs calls against flaky upstreams under bounded
// exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
)

// Policy bounds a retry loop. Retries is the number of extra attempts after
// the first; zero runs the operation once.
type Policy struct {
	Retries uint32
	Base    time.Duration
	Max     time.Duration
}

// Do runs op until it succeeds, fails with an error retryable rejects, or the
// retry budget is spent. The last error is returned. A cancelled ctx stops
// the loop and returns ctx.Err().
func Do(ctx context.Context, p Policy, name string, log *zap.Logger, retryable func(error) bool, op func(ctx context.Context) error) error {
	log = logger.OrNop(log)

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		log.Warn("retrying after failure",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err != nil && attempt > 1 {
		log.Warn("giving up",
			zap.String("operation", name),
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
	return err
}

// backOff builds a fresh schedule for one Do call.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.Base > 0 {
		exp.InitialInterval = p.Base
	}
	if p.Max > 0 {
		exp.MaxInterval = p.Max
	}
	exp.MaxElapsedTime = 0 // bounded by the retry count instead
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Retries)), ctx)
}
