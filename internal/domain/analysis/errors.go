package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrAdmission marks input rejected before the pipeline runs.
	ErrAdmission = errors.New("admission rejected")

	// ErrInfrastructure marks failures that abort a request with no partial result:
	// workspace creation, process spawn, timeout.
	ErrInfrastructure = errors.New("infrastructure error")

	// ErrToolTimeout is an infrastructure error raised when the tool outlives its bound.
	ErrToolTimeout = fmt.Errorf("%w: tool timed out", ErrInfrastructure)

	// ErrNotFound is returned by result stores for unknown ids.
	ErrNotFound = errors.New("analysis not found")
)

// IsInfrastructure reports whether err aborts a request.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}
