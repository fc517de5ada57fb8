package reliability

import (
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsRetryableStoreError reports whether a store failure is worth another
// attempt. Postgres errors are classified by SQLSTATE; anything that is not a
// server-side error (dial failures, timeouts) is treated as transient.
func IsRetryableStoreError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsRetryableSQLState(pgErr.Code)
	}
	return true
}

// IsRetryableSQLState classifies retryable Postgres error codes.
func IsRetryableSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"):
		// connection exception class
		return true
	case code == "53300", code == "57P03", code == "40001", code == "40P01":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
