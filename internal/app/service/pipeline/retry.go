package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy retries an operation with exponential backoff. The delay after
// attempt n is BaseDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
}

func (p RetryPolicy) Do(ctx context.Context, log *zap.SugaredLogger, op string, fn func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		log.Warnw("operation failed, retrying",
			"op", op, "attempt", attempt, "max_attempts", p.MaxAttempts,
			"delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= time.Duration(p.Multiplier)
	}
	log.Errorw("operation failed after all attempts", "op", op, "attempts", p.MaxAttempts, "error", err)
	return err
}
