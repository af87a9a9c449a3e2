package types

import "github.com/pkg/errors"

// Error taxonomy shared by every stage of a run. Wrap these with
// errors.Wrap/Wrapf and classify with errors.Is.
var (
	// ErrInvalidInput covers a missing target column, an unknown task kind or
	// an unusable dataset. Raised before any training starts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTarget is the InvalidInput case of an absent target column.
	ErrInvalidTarget = errors.Wrap(ErrInvalidInput, "invalid target")

	// ErrUnknownFamily cannot be reached through the closed catalog.
	ErrUnknownFamily = errors.New("unknown model family")

	// ErrSearchTrial marks a trial whose cross-validation could not produce
	// a score.
	ErrSearchTrial = errors.New("search trial failed")

	// ErrPersistence marks a failed artifact or report write.
	ErrPersistence = errors.New("persistence failed")
)
