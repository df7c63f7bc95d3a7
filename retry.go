package tail

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy controls how a failed delivery is retried before the chunk is
// dropped.
type RetryPolicy struct {
	// MaxAttempts is the total number of delivery attempts per chunk.
	// Zero retries until the delivery succeeds or the context ends.
	MaxAttempts int
	// InitialInterval is the first delay, doubled after every failure.
	// Zero retries immediately.
	InitialInterval time.Duration
	// MaxInterval caps the delay. Zero leaves the backoff default.
	MaxInterval time.Duration
}

// DefaultRetryPolicy never gives up and backs off up to five seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("invalid retry attempts %d", p.MaxAttempts)
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return fmt.Errorf("invalid retry intervals %s, %s", p.InitialInterval, p.MaxInterval)
	}
	return nil
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialInterval > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.InitialInterval
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		eb.MaxElapsedTime = 0
		b = eb
	}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// deliver hands chunk to the sink, retrying failures under the retry policy.
// When the attempts are exhausted the chunk is logged and skipped; only a
// cancelled context is returned as an error.
func (t *Tailer) deliver(ctx context.Context, chunk []byte) error {
	op := func() error {
		_, err := t.out.Deliver(ctx, chunk)
		return err
	}
	notify := func(err error, next time.Duration) {
		t.logger.Error("failed to send data to output",
			zap.Error(err),
			zap.Int("bytes", len(chunk)),
			zap.Duration("retry_in", next))
	}

	err := backoff.RetryNotify(op, t.cfg.Retry.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.logger.Error("dropping chunk after failed delivery",
		zap.Error(err),
		zap.Int("bytes", len(chunk)),
		zap.Int64("offset", t.cursor.Offset))
	return nil
}
