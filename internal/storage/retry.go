package storage

import (
	"context"
	"time"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
)

// Retry runs op up to attempts times with exponential backoff, doubling
// baseDelay after each failure. Errors carrying a permanent taxonomy kind
// (publishing conflicts, missing objects) are returned immediately; only
// transient transport failures are retried.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func isPermanent(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.PublishingError, apperrors.NotFoundError, apperrors.ValidationError:
		return true
	}
	return false
}
