package script

import (
	"time"

	"github.com/dshills/mudlark/internal/logging"
)

// Option configures a Script at creation.
type Option func(*Script)

// WithSource sets the originating source reference.
func WithSource(ref SourceRef) Option {
	return func(s *Script) { s.source = ref }
}

// WithArgs sets the ordered invocation arguments.
func WithArgs(args []string) Option {
	return func(s *Script) { s.args = args }
}

// WithKWArgs sets the keyed invocation arguments.
func WithKWArgs(kwargs map[string]string) Option {
	return func(s *Script) { s.kwargs = kwargs }
}

// WithLogger sets the diagnostic sink.
func WithLogger(log *logging.Logger) Option {
	return func(s *Script) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEcho sets the user-visible message sink.
func WithEcho(echo EchoSink) Option {
	return func(s *Script) {
		if echo != nil {
			s.echo = echo
		}
	}
}

// WithJoinTimeout bounds the waits on child-task reaping and kill joins.
func WithJoinTimeout(d time.Duration) Option {
	return func(s *Script) {
		if d > 0 {
			s.joinTimeout = d
		}
	}
}

// WithCleanup sets a hook run at the end of shutdown to release the
// script's underlying execution resource.
func WithCleanup(fn func()) Option {
	return func(s *Script) { s.cleanup = fn }
}

// WithInitialValue sets a provider whose result becomes the script's value
// at activation. The body's own return value cannot override it.
func WithInitialValue(fn func() any) Option {
	return func(s *Script) { s.initialValue = fn }
}

// WithQuiet sets the quiet flag.
func WithQuiet() Option {
	return func(s *Script) { s.quiet = true }
}

// WithHidden sets the hidden flag.
func WithHidden() Option {
	return func(s *Script) { s.hidden = true }
}

// WithSilent sets the silent flag.
func WithSilent() Option {
	return func(s *Script) { s.silent = true }
}

// WithNoEcho sets the no-echo flag.
func WithNoEcho() Option {
	return func(s *Script) { s.noEcho = true }
}
