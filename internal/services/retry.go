package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryPolicy is a bounded retry with doubling backoff.
type retryPolicy struct {
	Attempts int
	Base     time.Duration
}

var (
	warmupRetry = retryPolicy{Attempts: 3, Base: 400 * time.Millisecond}
	modelRetry  = retryPolicy{Attempts: 3, Base: 600 * time.Millisecond}
	uploadRetry = retryPolicy{Attempts: 4, Base: time.Second}
)

// sleepFunc waits for d or until ctx is done. Tests swap it out.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs fn until it succeeds, the attempts run out, the error is
// permanent or ctx is cancelled.
func (p retryPolicy) do(ctx context.Context, sleep sleepFunc, logCtx *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if sleep == nil {
		sleep = sleepCtx
	}
	attempts := max(p.Attempts, 1)
	backoff := p.Base
	var lastErr error

	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(err) || i == attempts-1 {
			break
		}

		logCtx.Warn(
			"Operation failed, will retry.",
			"op", op,
			"attempt", i+1,
			"maxRetries", attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := sleep(ctx, backoff); err != nil {
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "op", op, "error", err)
			return err
		}
		backoff *= 2
	}
	return fmt.Errorf("%s failed after retries: %w", op, lastErr)
}

// isPermanent reports errors that a retry cannot fix.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch s.Code() {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return true
	}
	return false
}
