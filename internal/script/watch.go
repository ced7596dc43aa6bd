package script

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// WatchAction is the reaction run when a watched pattern matches an
// incoming line. It receives the matched line and a context carrying the
// owning script, cancelled when the task is reaped.
type WatchAction func(ctx context.Context, line string) error

// WatchEntry pairs a line pattern with a reactive action. Its lifetime
// equals the owning script's lifetime.
type WatchEntry struct {
	Pattern *regexp.Regexp
	Action  WatchAction
}

// childTask is a reactive task spawned from a watch match. Child tasks are
// tracked for cleanup but are not scripts and are never registered.
type childTask struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Watchfor registers a watch entry. Entries registered after shutdown has
// begun are dropped.
func (s *Script) Watchfor(pattern *regexp.Regexp, action WatchAction) error {
	if pattern == nil || action == nil {
		return nil
	}
	if s.halting.Load() {
		return ErrHalting
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches = append(s.watches, &WatchEntry{Pattern: pattern, Action: action})
	return nil
}

// WatchCount returns the number of registered watch entries.
func (s *Script) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// MatchWatches returns the watch entries whose patterns match the line.
func (s *Script) MatchWatches(line string) []*WatchEntry {
	s.mu.Lock()
	entries := make([]*WatchEntry, len(s.watches))
	copy(entries, s.watches)
	s.mu.Unlock()

	var matched []*WatchEntry
	for _, e := range entries {
		if e.Pattern.MatchString(line) {
			matched = append(matched, e)
		}
	}
	return matched
}

// SpawnReactive launches a detached reactive task for one watch match. The
// task waits until the owning script is resolvable as current (registered
// and unpaused), invokes the action with error isolation, and is swept up
// during the script's shutdown. Returns the task ID, or "" if the script is
// already halting.
func (s *Script) SpawnReactive(entry *WatchEntry, line string) string {
	if s.halting.Load() {
		return ""
	}

	ctx, cancel := context.WithCancel(NewContext(s.ctx, s))
	task := &childTask{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.halting.Load() {
		s.mu.Unlock()
		cancel()
		return ""
	}
	s.children[task.id] = task
	s.mu.Unlock()

	go func() {
		defer close(task.done)
		defer s.removeChild(task.id)
		defer cancel()

		// Hold the action until the owning script can be resolved as
		// current; supports nested lookups from within the action.
		if _, err := Current(ctx); err != nil {
			return
		}

		if err := s.runAction(ctx, entry, line); err != nil {
			s.log.WithScript(s.name).Error("watch action error: %v", err)
		}
	}()

	return task.id
}

// runAction invokes the action with panic recovery so a failing reaction
// never propagates to the dispatcher or to other tasks.
func (s *Script) runAction(ctx context.Context, entry *WatchEntry, line string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watch action panic: %v", r)
		}
	}()
	return entry.Action(ctx, line)
}

func (s *Script) removeChild(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children, id)
}

// ChildCount returns the number of live child tasks.
func (s *Script) ChildCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}
