package script

import "context"

// EchoSink receives user-visible messages (start/stop/error/pause notices
// and script echo output). The client front end supplies the implementation.
type EchoSink interface {
	Echo(msg string)
}

// EchoFunc adapts a function to the EchoSink interface.
type EchoFunc func(msg string)

// Echo implements EchoSink.
func (f EchoFunc) Echo(msg string) { f(msg) }

type ctxKey struct{}

// NewContext returns a context carrying the given script.
// Script bodies and reactive tasks run under such a context so nested
// lookups can resolve the unit they belong to.
func NewContext(ctx context.Context, s *Script) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the script carried by the context, if any.
func FromContext(ctx context.Context) (*Script, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Script)
	return s, ok
}

// Current resolves the script owning the calling task and waits until it is
// unpaused. It returns ErrNoCurrent when the context carries no script, or
// the context error if the wait is cancelled first.
func Current(ctx context.Context) (*Script, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoCurrent
	}
	if err := s.AwaitUnpaused(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
