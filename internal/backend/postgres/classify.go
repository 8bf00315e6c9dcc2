package postgres

import (
	"context"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"xferbench/internal/outcome"
)

// Classify maps a driver error onto the outcome taxonomy. This is the only
// place SQLSTATE codes are inspected.
func Classify(err error) outcome.Outcome {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return outcome.Fail(outcome.SerializationConflict, err)
		case strings.HasPrefix(pgErr.Code, "23"):
			return outcome.Reject(outcome.ConstraintViolation)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return outcome.Fail(outcome.ConnectionError, err)
		default:
			return outcome.Fail(outcome.Other, err)
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return outcome.Fail(outcome.ConnectionError, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return outcome.Fail(outcome.Other, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return outcome.Fail(outcome.ConnectionError, err)
	}
	return outcome.Fail(outcome.Other, err)
}
