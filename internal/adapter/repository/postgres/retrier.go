package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLSTATE codes that are safe to retry for an approval write.
const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlock             = "40P01"
	pgErrLockNotAvailable     = "55P03"
	pgClassConnection         = "08"
)

// Retrier re-runs approval writes that lost a serialization race or a connection.
type Retrier struct {
	attempts        uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	logger          zerolog.Logger
}

// RetrierOption customises a Retrier.
type RetrierOption func(*Retrier)

// WithAttempts caps the number of retries after the first attempt.
func WithAttempts(n uint64) RetrierOption {
	return func(r *Retrier) { r.attempts = n }
}

// WithIntervals sets the backoff bounds.
func WithIntervals(initial, maxInterval, maxElapsed time.Duration) RetrierOption {
	return func(r *Retrier) {
		r.initialInterval = initial
		r.maxInterval = maxInterval
		r.maxElapsedTime = maxElapsed
	}
}

// NewRetrier returns a retrier allowing three retries within ten seconds.
func NewRetrier(logger zerolog.Logger, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		attempts:        3,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     time.Second,
		maxElapsedTime:  10 * time.Second,
		logger:          logger.With().Str("component", "approval_retrier").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retry runs operation until it succeeds, fails permanently or the budget is spent.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.attempts), ctx)

	retry := 0
	return backoff.RetryNotify(func() error {
		err := operation()
		if err == nil || isRetryableError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		retry++
		r.logger.Warn().Err(err).Int("retry", retry).Dur("wait", wait).Msg("retryable database error")
	})
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlock, pgErrLockNotAvailable:
			return true
		}
		return strings.HasPrefix(pgErr.Code, pgClassConnection)
	}
	return pgconn.SafeToRetry(err)
}
