// Package engine wires the script registry, source resolver, Lua runtime,
// and dispatcher into the creation entry point and control surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/mudlark/internal/dispatch"
	"github.com/dshills/mudlark/internal/logging"
	"github.com/dshills/mudlark/internal/lua"
	"github.com/dshills/mudlark/internal/script"
	"github.com/dshills/mudlark/internal/source"
)

// ErrAlreadyRunning is returned when starting a script whose name is live
// and the start was not forced.
var ErrAlreadyRunning = errors.New("engine: script already running")

// Engine owns the running-script universe for one client session.
type Engine struct {
	registry    *script.Registry
	resolver    *source.Resolver
	dispatcher  *dispatch.Dispatcher
	log         *logging.Logger
	echo        script.EchoSink
	put         func(cmd string)
	joinTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostic sink.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEcho sets the user-visible message sink.
func WithEcho(echo script.EchoSink) Option {
	return func(e *Engine) {
		if echo != nil {
			e.echo = echo
		}
	}
}

// WithPut sets the upstream command sink (lines scripts send to the game).
func WithPut(put func(cmd string)) Option {
	return func(e *Engine) { e.put = put }
}

// WithJoinTimeout bounds kill joins and child-task reaping for scripts the
// engine starts.
func WithJoinTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.joinTimeout = d
		}
	}
}

// New creates an engine over the given registry and resolver.
func New(reg *script.Registry, res *source.Resolver, opts ...Option) *Engine {
	e := &Engine{
		registry:    reg,
		resolver:    res,
		log:         logging.Null,
		echo:        script.EchoFunc(func(string) {}),
		joinTimeout: script.DefaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatcher = dispatch.New(reg, e.log)
	return e
}

// StartOptions control script creation.
type StartOptions struct {
	Args         []string
	KWArgs       map[string]string
	Force        bool
	Quiet        bool
	Hidden       bool
	Silent       bool
	NoEcho       bool
	InitialValue func() any
}

// Start resolves name to a script artifact, builds a Lua body around it,
// and launches it. Resolution failures surface as source.ErrNotFound or
// source.ErrAmbiguous; a live duplicate surfaces as ErrAlreadyRunning
// unless forced.
func (e *Engine) Start(name string, opts StartOptions) (*script.Script, error) {
	entry, err := e.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	if !opts.Force && e.registry.Running(entry.Name) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, entry.Name)
	}

	src, err := e.resolver.Load(entry)
	if err != nil {
		return nil, err
	}

	st, err := lua.NewState()
	if err != nil {
		return nil, err
	}

	sOpts := []script.Option{
		script.WithSource(script.SourceRef{Path: entry.Path, DisplayName: entry.DisplayName}),
		script.WithArgs(opts.Args),
		script.WithKWArgs(opts.KWArgs),
		script.WithLogger(e.log),
		script.WithEcho(e.echo),
		script.WithJoinTimeout(e.joinTimeout),
		script.WithCleanup(func() { st.Close() }),
	}
	if opts.Quiet {
		sOpts = append(sOpts, script.WithQuiet())
	}
	if opts.Hidden {
		sOpts = append(sOpts, script.WithHidden())
	}
	if opts.Silent {
		sOpts = append(sOpts, script.WithSilent())
	}
	if opts.NoEcho {
		sOpts = append(sOpts, script.WithNoEcho())
	}
	if opts.InitialValue != nil {
		sOpts = append(sOpts, script.WithInitialValue(opts.InitialValue))
	}

	s := script.New(entry.Name, e.registry, sOpts...)

	host := lua.Host{
		Registry: e.registry,
		Log:      e.log,
		Echo:     e.echo,
		Put:      e.put,
		Start: func(name string, args []string) error {
			_, err := e.Start(name, StartOptions{Args: args})
			return err
		},
	}

	body := func(ctx context.Context, sc *script.Script) (any, error) {
		api := lua.NewAPI(host, sc, st)
		api.Install(ctx)
		return st.Run(src, entry.Name)
	}

	if err := s.Start(body, opts.Force); err != nil {
		st.Close()
		return nil, err
	}
	return s, nil
}

// Kill cancels the named script and waits a bounded join window.
func (e *Engine) Kill(name string) error { return e.registry.KillByName(name) }

// Pause flips the named script's pause flag on.
func (e *Engine) Pause(name string) (*script.Script, error) { return e.registry.PauseByName(name) }

// Unpause flips the named script's pause flag off.
func (e *Engine) Unpause(name string) (*script.Script, error) { return e.registry.UnpauseByName(name) }

// PauseAll pauses every script not exempt from pause-all.
func (e *Engine) PauseAll() []*script.Script { return e.registry.PauseAll() }

// UnpauseAll unpauses every paused script.
func (e *Engine) UnpauseAll() []*script.Script { return e.registry.UnpauseAll() }

// KillAll cancels every script not exempt from kill-all.
func (e *Engine) KillAll() { e.registry.KillAll() }

// Find returns the named live script or nil.
func (e *Engine) Find(name string) *script.Script { return e.registry.Find(name) }

// List returns a snapshot of live scripts.
func (e *Engine) List() []*script.Script { return e.registry.List() }

// Registry exposes the underlying registry for supervision.
func (e *Engine) Registry() *script.Registry { return e.registry }

// FeedDownstream routes one decoded game line to interested scripts and
// evaluates watch patterns.
func (e *Engine) FeedDownstream(line string) { e.dispatcher.Downstream(line) }

// FeedDownstreamRaw routes one undecoded game line.
func (e *Engine) FeedDownstreamRaw(line string) { e.dispatcher.DownstreamRaw(line) }

// FeedUpstream routes one outgoing client command.
func (e *Engine) FeedUpstream(line string) { e.dispatcher.Upstream(line) }

// FeedScriptOutput routes one line of script-generated output.
func (e *Engine) FeedScriptOutput(line string) { e.dispatcher.ScriptOutput(line) }

// Shutdown cancels every live script, including kill-all-exempt ones, and
// waits until they terminate or the timeout lapses. Returns the number of
// scripts still live on timeout.
func (e *Engine) Shutdown(timeout time.Duration) int {
	scripts := e.registry.List()
	for _, s := range scripts {
		s.Kill()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, s := range scripts {
		select {
		case <-s.Done():
		case <-deadline.C:
			remaining := e.registry.Count()
			e.log.Warn("engine: shutdown timed out with %d scripts live", remaining)
			return remaining
		}
	}
	return 0
}
