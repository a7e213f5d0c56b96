package motion

import "errors"

var (
	// ErrInvalidProgram is returned when a program violates the playback
	// preconditions (empty segments, decreasing fractions, wrong joint count).
	ErrInvalidProgram = errors.New("invalid motion program")

	// ErrFactorOutOfRange is returned by Tick when the interpolation factor
	// leaves [0,1). It indicates bad caller data, e.g. a tick time earlier
	// than the playback clock.
	ErrFactorOutOfRange = errors.New("interpolation factor out of range")
)
