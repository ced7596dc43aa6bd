package lua

import "errors"

// Lua runtime errors.
var (
	// ErrStateClosed is returned when operating on a closed Lua state.
	ErrStateClosed = errors.New("lua: state is closed")

	// ErrNotAFunction is returned when a callback value is not a Lua function.
	ErrNotAFunction = errors.New("lua: value is not a function")
)
