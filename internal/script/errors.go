package script

import "errors"

// Script system errors.
var (
	// ErrNameConflict is returned when registering a script whose name is
	// already live and the caller did not force the registration.
	ErrNameConflict = errors.New("script: name already running")

	// ErrNotFound is returned when no live script matches a name.
	ErrNotFound = errors.New("script: not found")

	// ErrNoMatch is returned when a pause/unpause request finds no script in
	// the required state.
	ErrNoMatch = errors.New("script: no matching script")

	// ErrHalting is returned when an operation is requested on a script that
	// has begun its shutdown sequence.
	ErrHalting = errors.New("script: script is halting")

	// ErrNoCurrent is returned when no script can be resolved from a context.
	ErrNoCurrent = errors.New("script: no current script")
)
