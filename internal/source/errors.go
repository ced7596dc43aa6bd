package source

import "errors"

// Resolution errors.
var (
	// ErrNotFound is returned when no artifact matches the requested name.
	ErrNotFound = errors.New("source: script not found")

	// ErrAmbiguous is returned when a partial name matches more than one
	// artifact.
	ErrAmbiguous = errors.New("source: ambiguous script name")
)
