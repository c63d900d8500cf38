package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

// RetryPolicy retries storage failures with exponential backoff. Every other
// error kind is returned on the first attempt.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (p RetryPolicy) do(ctx context.Context, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for i := 1; ; i++ {
		err = fn(ctx)
		if err == nil || apperr.KindOf(err) != apperr.KindStorage || i >= attempts {
			return err
		}

		logger.Warn("storage failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", i),
			zap.Duration("backoff", delay),
			zap.String("request_id", GetRequestID(ctx)),
			zap.Error(err),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay *= 2
	}
}
