package script

import (
	"strings"
	"sync"
	"time"

	"github.com/dshills/mudlark/internal/logging"
)

// Registry is the process-wide table of live scripts plus the single
// coordination lock available to scripts for cross-script atomic sections.
//
// A Registry is constructed once at process start and injected into every
// component that needs it. A script is a member exactly while it has not
// completed shutdown; all mutation goes through Register and Unregister.
type Registry struct {
	mu    sync.RWMutex
	units []*Script

	// global is the process-wide lock backing Atomic.
	global sync.Mutex

	joinTimeout time.Duration
	log         *logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry's diagnostic sink.
func WithRegistryLogger(log *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithKillJoinTimeout bounds how long KillByName waits for a cancelled
// script to reach a terminal state.
func WithKillJoinTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.joinTimeout = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		joinTimeout: DefaultJoinTimeout,
		log:         logging.Null,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a script. Without force, a live script with the same name
// causes ErrNameConflict and nothing is added.
func (r *Registry) Register(s *Script, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !force {
		for _, u := range r.units {
			if u.Name() == s.Name() {
				return ErrNameConflict
			}
		}
	}

	r.units = append(r.units, s)
	return nil
}

// Unregister removes a script. Removal is idempotent; absent scripts are a
// no-op.
func (r *Registry) Unregister(s *Script) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, u := range r.units {
		if u == s {
			r.units = append(r.units[:i], r.units[i+1:]...)
			return
		}
	}
}

// Find returns the first live script with exactly the given name, or nil.
func (r *Registry) Find(name string) *Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.units {
		if u.Name() == name {
			return u
		}
	}
	return nil
}

// FindPrefix returns the first live script whose name equals or starts with
// the given fragment (case-insensitive). Exact matches win over prefix
// matches.
func (r *Registry) FindPrefix(fragment string) *Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(fragment)
	var prefix *Script
	for _, u := range r.units {
		name := strings.ToLower(u.Name())
		if name == lower {
			return u
		}
		if prefix == nil && strings.HasPrefix(name, lower) {
			prefix = u
		}
	}
	return prefix
}

// FindFunc returns the first live script satisfying the predicate, or nil.
func (r *Registry) FindFunc(pred func(*Script) bool) *Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.units {
		if pred(u) {
			return u
		}
	}
	return nil
}

// List returns a snapshot of all live scripts in registration order.
// Mutating the returned slice does not affect the registry.
func (r *Registry) List() []*Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Script, len(r.units))
	copy(out, r.units)
	return out
}

// ListHidden returns a snapshot of the live scripts with the hidden flag.
func (r *Registry) ListHidden() []*Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Script
	for _, u := range r.units {
		if u.Hidden() {
			out = append(out, u)
		}
	}
	return out
}

// ListPaused returns a snapshot of the live scripts that are paused.
func (r *Registry) ListPaused() []*Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Script
	for _, u := range r.units {
		if u.Paused() {
			out = append(out, u)
		}
	}
	return out
}

// Count returns the number of live scripts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// Running reports whether a live script has exactly the given name.
func (r *Registry) Running(name string) bool {
	return r.Find(name) != nil
}

// Atomic runs fn while holding the process-wide lock. The call blocks until
// the lock is free; there is no timeout. The lock is not reentrant —
// callers must not nest Atomic sections on the same logical task.
func (r *Registry) Atomic(fn func()) {
	r.global.Lock()
	defer r.global.Unlock()
	fn()
}

// KillByName cancels the named script and waits a bounded window for it to
// reach a terminal state, giving callers a synchronous-cancel illusion.
// Returns ErrNotFound, without side effects, when no script matches. A
// script still cleaning up when the window closes is not an error.
func (r *Registry) KillByName(name string) error {
	s := r.Find(name)
	if s == nil {
		return ErrNotFound
	}

	s.Kill()

	select {
	case <-s.Done():
	case <-time.After(r.joinTimeout):
		r.log.Warn("kill join timed out for %s", name)
	}
	return nil
}

// PauseByName pauses the first unpaused script with the given name and
// returns it. Returns ErrNotFound when no script matches, ErrNoMatch when
// every match is already paused.
func (r *Registry) PauseByName(name string) (*Script, error) {
	if !r.Running(name) {
		return nil, ErrNotFound
	}

	s := r.FindFunc(func(u *Script) bool {
		return u.Name() == name && !u.Paused()
	})
	if s == nil {
		return nil, ErrNoMatch
	}

	s.Pause()
	r.log.WithScript(name).Info("script paused")
	return s, nil
}

// UnpauseByName unpauses the first paused script with the given name and
// returns it. Returns ErrNotFound when no script matches, ErrNoMatch when
// no match is paused.
func (r *Registry) UnpauseByName(name string) (*Script, error) {
	if !r.Running(name) {
		return nil, ErrNotFound
	}

	s := r.FindFunc(func(u *Script) bool {
		return u.Name() == name && u.Paused()
	})
	if s == nil {
		return nil, ErrNoMatch
	}

	s.Unpause()
	r.log.WithScript(name).Info("script unpaused")
	return s, nil
}

// PauseAll pauses every live unpaused script that does not ignore the
// operation and returns the affected scripts.
func (r *Registry) PauseAll() []*Script {
	var affected []*Script
	for _, u := range r.List() {
		if u.IgnoresPauseAll() {
			continue
		}
		if u.Pause() {
			affected = append(affected, u)
		}
	}
	return affected
}

// UnpauseAll unpauses every paused script and returns the affected scripts.
func (r *Registry) UnpauseAll() []*Script {
	var affected []*Script
	for _, u := range r.List() {
		if u.Unpause() {
			affected = append(affected, u)
		}
	}
	return affected
}

// KillAll cancels every live script that does not ignore the operation.
// It does not wait for the scripts to finish cleanup.
func (r *Registry) KillAll() {
	for _, u := range r.List() {
		if u.IgnoresKillAll() {
			continue
		}
		u.Kill()
	}
}
