// Package runerr holds the error classes the coordinator uses to decide
// whether a failure stops the whole suite or only invalidates one run.
package runerr

import "github.com/cockroachdb/errors"

var (
	// ErrConfig marks an invalid configuration. Always fatal, reported before
	// any run starts.
	ErrConfig = errors.New("invalid configuration")

	// ErrMeasurementIntegrity marks a histogram overflow or an incompatible
	// merge. The run is aborted and the suite stops.
	ErrMeasurementIntegrity = errors.New("measurement integrity violated")

	// ErrBarrierTimeout marks a client that failed to reach the start barrier
	// in time. Fatal for the run only.
	ErrBarrierTimeout = errors.New("barrier timeout")

	// ErrBalanceMismatch marks a failed balance-conservation check.
	ErrBalanceMismatch = errors.New("balance conservation violated")
)

// Configf returns a config error with a formatted message.
func Configf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfig)
}

// Integrity wraps err as a measurement-integrity error.
func Integrity(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrMeasurementIntegrity)
}

// Fatal reports whether err must stop the suite.
func Fatal(err error) bool {
	return errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrMeasurementIntegrity) ||
		errors.Is(err, ErrBalanceMismatch)
}
