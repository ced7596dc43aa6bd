package script

// Status is the terminal outcome of a script.
//
// A script's status is StatusNone while it is running and exactly one
// non-empty value after shutdown: StatusOK, StatusErr, StatusKilled, or an
// arbitrary caller-supplied code passed to Exit.
type Status string

const (
	// StatusNone means the script has not terminated.
	StatusNone Status = ""

	// StatusOK means the body returned normally without an explicit status.
	StatusOK Status = "ok"

	// StatusErr means an unhandled error or panic escaped the body.
	StatusErr Status = "err"

	// StatusKilled means the script was cancelled.
	StatusKilled Status = "killed"
)

// Terminal reports whether the status is a terminal value.
func (s Status) Terminal() bool {
	return s != StatusNone
}

// String returns the status code, or "running" for the unset status.
func (s Status) String() string {
	if s == StatusNone {
		return "running"
	}
	return string(s)
}
