package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// transientBackoff bounds how long a mutating call retries against a
// connection-level Postgres failure (dropped connection, serialization
// conflict, the other SQLSTATEs isTransient lists) before giving up and surfacing
// the error to the caller.
func transientBackoff() retry.Backoff {
	b := retry.NewExponential(50 * time.Millisecond)
	b = retry.WithCappedDuration(2*time.Second, b)
	return retry.WithMaxRetries(3, b)
}

// withRetry runs fn, retrying on transient connection failures with
// capped exponential backoff. Domain errors fn returns (ownership
// lost, no rows, validation) are never classified as transient, so
// they surface to the caller on the first attempt.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, transientBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether err reflects a connection-level failure
// rather than a query result (no rows, constraint violation, ownership
// check) that a retry could never fix.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P03", // cannot_connect_now
			"08000", // connection_exception
			"08003", // connection_does_not_exist
			"08006": // connection_failure
			return true
		}
		return false
	}

	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
