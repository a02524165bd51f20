package database

import (
	"context"
	"strings"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// retryableCodes are SQLSTATEs outside class 08 that a retry can clear.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

// Classify marks transient failures as temporary errors so retry.PolicyRetryable
// retries them. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTemporary("database unavailable", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "08") || retryableCodes[pgErr.Code]) {
		return errors.NewTemporary("database unavailable: "+pgErr.Code, err)
	}
	return err
}
