package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/mudlark/internal/logging"
)

// DefaultJoinTimeout bounds how long shutdown waits for child tasks and how
// long KillByName waits for a cancelled script to finish cleanup.
const DefaultJoinTimeout = 2 * time.Second

// Body is a script's execution body. It runs on its own goroutine under a
// context that is cancelled when the script is killed. A non-nil return
// value becomes the script's result value; a returned error terminates the
// script with status err unless the error was caused by cancellation.
type Body func(ctx context.Context, s *Script) (any, error)

// SourceRef identifies the artifact a script was started from.
// The core treats it as opaque.
type SourceRef struct {
	// Path is the resolved location of the source artifact.
	Path string
	// DisplayName is the human-facing name used in notices.
	DisplayName string
}

// Script is one running automation script: a cancellable unit of work with
// its own buffers, watch table, lifecycle flags, and shutdown protocol.
type Script struct {
	id     string
	name   string
	source SourceRef
	args   []string
	kwargs map[string]string

	downstream *Buffer
	upstream   *Buffer
	unique     *Buffer

	registry *Registry
	log      *logging.Logger
	echo     EchoSink

	joinTimeout  time.Duration
	cleanup      func()
	initialValue func() any

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	quiet       bool
	hidden      bool
	silent      bool
	noEcho      bool
	wantsDown   bool
	wantsRaw    bool
	wantsUp     bool
	wantsOutput bool
	noPauseAll  bool
	noKillAll   bool
	pauseCh     chan struct{} // non-nil while paused; closed on unpause
	watches     []*WatchEntry
	children    map[string]*childTask
	dieWith     []string
	exitFns     []func()
	status      Status
	armed       bool
	pendingKill bool
	value       any
	valueSet    bool

	valueCh chan struct{} // closed once the result value is set
	done    chan struct{} // closed when shutdown completes

	startedAt time.Time

	// halting is the one-shot shutdown guard; once set it never clears.
	halting atomic.Bool
}

// New creates a script in the Created state. The script is not registered
// and its body is not running until Start is called.
func New(name string, reg *Registry, opts ...Option) *Script {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Script{
		id:          uuid.New().String(),
		name:        name,
		downstream:  NewBuffer(),
		upstream:    NewBuffer(),
		unique:      NewBuffer(),
		registry:    reg,
		log:         logging.Null,
		echo:        EchoFunc(func(string) {}),
		joinTimeout: DefaultJoinTimeout,
		ctx:         ctx,
		cancel:      cancel,
		wantsDown:   true,
		children:    make(map[string]*childTask),
		valueCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start registers the script and launches its body on a new goroutine.
// With force false, a live script with the same name causes ErrNameConflict
// and the script is not started.
func (s *Script) Start(body Body, force bool) error {
	if err := s.registry.Register(s, force); err != nil {
		return err
	}

	s.startedAt = time.Now()
	go s.run(body)
	return nil
}

// run executes the body and drives the shutdown protocol. It is the only
// caller of finalize on the natural path, so the full shutdown sequence runs
// on the body goroutine.
func (s *Script) run(body Body) {
	ctx := NewContext(s.ctx, s)

	var val any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("script panic: %v", r)
			}
		}()

		// Activation prologue: cancellation is masked until arm runs, so a
		// kill racing the start announcement cannot leave a half-started
		// script behind.
		s.announce()
		s.arm()

		if s.initialValue != nil {
			s.SetValue(s.initialValue())
		}

		val, err = body(ctx, s)
	}()

	switch {
	case s.ctx.Err() != nil:
		// Cancellation is a distinguished signal, not a script error.
		s.setStatusIfUnset(StatusKilled)
	case err == nil:
		if val != nil {
			s.SetValue(val)
		}
		s.setStatusIfUnset(StatusOK)
	default:
		s.log.WithScript(s.name).Error("script error: %v", err)
		if !s.Silent() {
			s.echo.Echo(fmt.Sprintf("--- error in %s: %v", s.displayName(), err))
		}
		s.setStatusIfUnset(StatusErr)
	}

	s.finalize()
}

// announce emits the start notice.
func (s *Script) announce() {
	s.log.WithScript(s.name).Info("script started")
	if !s.Quiet() && !s.Hidden() {
		s.echo.Echo(fmt.Sprintf("--- %s active", s.displayName()))
	}
}

// arm enables cancellation delivery and applies a kill that arrived during
// the prologue.
func (s *Script) arm() {
	s.mu.Lock()
	s.armed = true
	pending := s.pendingKill
	s.mu.Unlock()

	if pending {
		s.cancel()
	}
}

// Kill requests cancellation. A kill during the activation prologue is held
// until the prologue completes; a kill of a terminated script is a no-op.
func (s *Script) Kill() {
	if s.Terminated() {
		return
	}

	s.mu.Lock()
	if !s.armed {
		s.pendingKill = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.cancel()
}

// Exit terminates the script with a caller-chosen status. StatusNone maps
// to StatusOK. The status is honored verbatim over the killed status the
// cancellation would otherwise assign.
func (s *Script) Exit(status Status) {
	if status == StatusNone {
		status = StatusOK
	}
	s.setStatusIfUnset(status)
	s.Kill()
}

// finalize runs the shutdown sequence exactly once: ensure a terminal
// status, run exit callbacks in registration order, cancel dependent
// scripts, reap child tasks, unregister, report, release resources.
func (s *Script) finalize() {
	if !s.halting.CompareAndSwap(false, true) {
		return
	}

	s.setStatusIfUnset(StatusOK)

	s.mu.Lock()
	fns := make([]func(), len(s.exitFns))
	copy(fns, s.exitFns)
	dependents := make([]string, len(s.dieWith))
	copy(dependents, s.dieWith)
	s.mu.Unlock()

	for _, fn := range fns {
		s.runIsolated("exit callback", fn)
	}

	for _, name := range dependents {
		if other := s.registry.Find(name); other != nil && other != s {
			other.Kill()
		}
	}

	s.reapChildren()

	s.registry.Unregister(s)

	// A script that never produced a result finalizes to nil so Value
	// callers are released.
	s.setValueOnce(nil)

	status := s.Status()
	uptime := time.Since(s.startedAt).Round(time.Millisecond)
	s.log.WithScript(s.name).Info("script terminated: status=%s uptime=%s", status, uptime)
	if !s.Quiet() && !s.Hidden() {
		s.echo.Echo(fmt.Sprintf("--- %s exiting (%s, up %s)", s.displayName(), status, uptime))
	}

	if s.cleanup != nil {
		s.runIsolated("cleanup", s.cleanup)
	}

	s.cancel()
	close(s.done)
}

// reapChildren cancels every tracked child task and waits a bounded window
// for them to finish.
func (s *Script) reapChildren() {
	s.mu.Lock()
	children := make([]*childTask, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	for _, c := range children {
		c.cancel()
	}

	deadline := time.NewTimer(s.joinTimeout)
	defer deadline.Stop()
	for _, c := range children {
		select {
		case <-c.done:
		case <-deadline.C:
			// Best-effort: leave stragglers to their cancelled contexts.
			return
		}
	}
}

// runIsolated runs fn with panic recovery so one failing callback cannot
// abort the remaining shutdown steps.
func (s *Script) runIsolated(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithScript(s.name).Error("%s panic: %v", what, r)
		}
	}()
	fn()
}

// OnExit registers a callback to run during shutdown, in registration order.
// Returns ErrHalting once shutdown has begun.
func (s *Script) OnExit(fn func()) error {
	if fn == nil {
		return nil
	}
	if s.halting.Load() {
		return ErrHalting
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitFns = append(s.exitFns, fn)
	return nil
}

// DieWith marks a named script for cancellation when this script terminates.
func (s *Script) DieWith(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dieWith = append(s.dieWith, name)
}

// Pause sets the pause flag. Returns false if already paused.
// The pause is cooperative: the body goroutine keeps running but refuses to
// be treated as current, and read points honor the flag.
func (s *Script) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pauseCh != nil {
		return false
	}
	s.pauseCh = make(chan struct{})
	return true
}

// Unpause clears the pause flag and wakes waiters. Returns false if the
// script was not paused.
func (s *Script) Unpause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pauseCh == nil {
		return false
	}
	close(s.pauseCh)
	s.pauseCh = nil
	return true
}

// Paused reports whether the pause flag is set.
func (s *Script) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseCh != nil
}

// AwaitUnpaused blocks until the script is unpaused or the context is done.
// The wake is event-driven: each pause installs a channel that unpause
// closes.
func (s *Script) AwaitUnpaused(ctx context.Context) error {
	for {
		s.mu.Lock()
		ch := s.pauseCh
		s.mu.Unlock()

		if ch == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Gets blocks until a plain downstream line is available, honoring the
// pause flag before consuming.
func (s *Script) Gets(ctx context.Context) (string, error) {
	if err := s.AwaitUnpaused(ctx); err != nil {
		return "", err
	}
	return s.downstream.Pop(ctx)
}

// TryGets returns a downstream line without blocking. A paused script
// refuses consumption.
func (s *Script) TryGets() (string, bool) {
	if s.Paused() {
		return "", false
	}
	return s.downstream.TryPop()
}

// Downstream returns the plain/raw downstream buffer.
func (s *Script) Downstream() *Buffer { return s.downstream }

// Upstream returns the upstream-echo buffer.
func (s *Script) Upstream() *Buffer { return s.upstream }

// Unique returns the script-to-script message buffer.
func (s *Script) Unique() *Buffer { return s.unique }

// SendUnique delivers a line directly to this script's unique buffer.
func (s *Script) SendUnique(line string) {
	s.unique.Push(line)
}

// SetValue sets the result value. Only the first set wins; later calls
// return false.
func (s *Script) SetValue(v any) bool {
	return s.setValueOnce(v)
}

func (s *Script) setValueOnce(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valueSet {
		return false
	}
	s.value = v
	s.valueSet = true
	close(s.valueCh)
	return true
}

// Value blocks until a result value exists, then returns it. After
// termination, repeated calls return the same cached value without
// blocking.
func (s *Script) Value(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.valueCh:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

// Status returns the terminal status, or StatusNone while running.
func (s *Script) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Script) setStatusIfUnset(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusNone {
		s.status = status
	}
}

// Done returns a channel closed when the script has completed shutdown.
func (s *Script) Done() <-chan struct{} { return s.done }

// Terminated reports whether shutdown has completed.
func (s *Script) Terminated() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Halting reports whether the shutdown sequence has begun.
func (s *Script) Halting() bool { return s.halting.Load() }

// ID returns the script's unique identifier.
func (s *Script) ID() string { return s.id }

// Name returns the script's stable name.
func (s *Script) Name() string { return s.name }

// Source returns the originating source reference.
func (s *Script) Source() SourceRef { return s.source }

// Args returns the ordered invocation arguments.
func (s *Script) Args() []string { return s.args }

// KWArgs returns the keyed invocation arguments.
func (s *Script) KWArgs() map[string]string { return s.kwargs }

// StartedAt returns the start timestamp.
func (s *Script) StartedAt() time.Time { return s.startedAt }

// Uptime returns the elapsed time since start.
func (s *Script) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *Script) displayName() string {
	if s.source.DisplayName != "" {
		return s.source.DisplayName
	}
	return s.name
}

// Flag accessors. Each flag is owned by the script; callers must not assume
// atomicity across multiple flag operations.

// Quiet reports the quiet flag (suppresses start/stop notices).
func (s *Script) Quiet() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.quiet }

// SetQuiet sets the quiet flag.
func (s *Script) SetQuiet(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.quiet = v }

// Hidden reports the hidden flag (excluded from default listings).
func (s *Script) Hidden() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.hidden }

// SetHidden sets the hidden flag.
func (s *Script) SetHidden(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.hidden = v }

// Silent reports the silent flag (suppresses error notices to the user).
func (s *Script) Silent() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.silent }

// SetSilent sets the silent flag.
func (s *Script) SetSilent(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.silent = v }

// NoEcho reports the no-echo flag (suppresses script echo output).
func (s *Script) NoEcho() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.noEcho }

// SetNoEcho sets the no-echo flag.
func (s *Script) SetNoEcho(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.noEcho = v }

// WantsDownstream reports whether plain downstream lines are delivered.
func (s *Script) WantsDownstream() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.wantsDown }

// SetWantsDownstream toggles plain downstream delivery.
func (s *Script) SetWantsDownstream(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.wantsDown = v }

// WantsDownstreamRaw reports whether raw/markup downstream lines are delivered.
func (s *Script) WantsDownstreamRaw() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.wantsRaw }

// SetWantsDownstreamRaw toggles raw downstream delivery.
func (s *Script) SetWantsDownstreamRaw(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.wantsRaw = v }

// WantsUpstream reports whether upstream echoes are delivered.
func (s *Script) WantsUpstream() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.wantsUp }

// SetWantsUpstream toggles upstream delivery.
func (s *Script) SetWantsUpstream(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.wantsUp = v }

// WantsScriptOutput reports whether script-originated output is delivered.
func (s *Script) WantsScriptOutput() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.wantsOutput }

// SetWantsScriptOutput toggles script-output delivery.
func (s *Script) SetWantsScriptOutput(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.wantsOutput = v }

// IgnoresPauseAll reports whether the script is exempt from PauseAll.
func (s *Script) IgnoresPauseAll() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.noPauseAll }

// SetIgnoresPauseAll sets the PauseAll exemption.
func (s *Script) SetIgnoresPauseAll(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.noPauseAll = v }

// IgnoresKillAll reports whether the script is exempt from KillAll.
func (s *Script) IgnoresKillAll() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.noKillAll }

// SetIgnoresKillAll sets the KillAll exemption.
func (s *Script) SetIgnoresKillAll(v bool) { s.mu.Lock(); defer s.mu.Unlock(); s.noKillAll = v }
