// Package retry runs infrastructure calls with exponential backoff on
// transient failures.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/bead-check/internal/apperrors"
	"github.com/example/bead-check/internal/logging"
)

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is used for database and cache lookups.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// Do calls fn until it succeeds, fails with a non transient error, or the
// attempts run out. Failures are wrapped as internal apperrors.Error values
// tagged with operation and requestID.
func Do(ctx context.Context, policy Policy, logger *zap.Logger, operation, requestID string, fn func() error) error {
	if policy.Attempts <= 1 {
		if err := fn(); err != nil {
			return apperrors.New(apperrors.KindInternal, operation, requestID, err)
		}
		return nil
	}

	backoff := policy.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, requestID)
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperrors.New(apperrors.KindInternal, operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= policy.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == policy.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return apperrors.New(apperrors.KindInternal, operation, requestID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return apperrors.New(apperrors.KindInternal, operation, requestID, err)
}

// IsTransient reports whether err looks like a timeout or temporary network
// condition worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
