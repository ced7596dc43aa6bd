package script

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchforAndMatch(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "beta")

	if err := s.Watchfor(regexp.MustCompile(`^go$`), func(ctx context.Context, line string) error {
		return nil
	}); err != nil {
		t.Fatalf("Watchfor failed: %v", err)
	}
	if s.WatchCount() != 1 {
		t.Errorf("expected 1 watch entry, got %d", s.WatchCount())
	}

	if got := s.MatchWatches("go"); len(got) != 1 {
		t.Errorf("expected 1 match for %q, got %d", "go", len(got))
	}
	if got := s.MatchWatches("stay"); len(got) != 0 {
		t.Errorf("expected no match for %q, got %d", "stay", len(got))
	}
}

func TestWatchforNilArgsIgnored(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "beta")

	if err := s.Watchfor(nil, nil); err != nil {
		t.Fatalf("nil Watchfor should be a no-op, got %v", err)
	}
	if s.WatchCount() != 0 {
		t.Errorf("expected no watch entries, got %d", s.WatchCount())
	}
}

func TestSpawnReactiveRunsActionOnce(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "beta")

	var runs atomic.Int32
	done := make(chan struct{})
	entry := &WatchEntry{
		Pattern: regexp.MustCompile(`^go$`),
		Action: func(ctx context.Context, line string) error {
			if line != "go" {
				t.Errorf("action received wrong line %q", line)
			}
			runs.Add(1)
			close(done)
			return nil
		},
	}

	id := s.SpawnReactive(entry, "go")
	if id == "" {
		t.Fatal("expected a task ID")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reactive task did not run")
	}

	if runs.Load() != 1 {
		t.Errorf("expected exactly one run, got %d", runs.Load())
	}
}

func TestSpawnReactiveErrorIsolated(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "beta")

	ran := make(chan struct{})
	entry := &WatchEntry{
		Pattern: regexp.MustCompile(`.`),
		Action: func(ctx context.Context, line string) error {
			close(ran)
			return errors.New("action failure")
		},
	}

	s.SpawnReactive(entry, "x")

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("reactive task did not run")
	}

	// The owning script must be unaffected.
	time.Sleep(20 * time.Millisecond)
	if s.Terminated() || s.Halting() {
		t.Error("action error propagated to the owning script")
	}
}

func TestSpawnReactivePanicIsolated(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "beta")

	ran := make(chan struct{})
	entry := &WatchEntry{
		Pattern: regexp.MustCompile(`.`),
		Action: func(ctx context.Context, line string) error {
			close(ran)
			panic("action panic")
		},
	}

	s.SpawnReactive(entry, "x")

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("reactive task did not run")
	}

	time.Sleep(20 * time.Millisecond)
	if s.Terminated() || s.Halting() {
		t.Error("action panic propagated to the owning script")
	}
}

func TestSpawnReactiveWaitsForUnpause(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "beta")
	s.Pause()

	ran := make(chan struct{})
	entry := &WatchEntry{
		Pattern: regexp.MustCompile(`.`),
		Action: func(ctx context.Context, line string) error {
			close(ran)
			return nil
		},
	}

	s.SpawnReactive(entry, "x")

	select {
	case <-ran:
		t.Fatal("action ran while the owning script was paused")
	case <-time.After(50 * time.Millisecond):
	}

	s.Unpause()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("action did not run after unpause")
	}
}

func TestChildrenReapedOnShutdown(t *testing.T) {
	r := newTestRegistry()
	s := New("parent", r, WithQuiet(), WithJoinTimeout(time.Second))
	if err := s.Start(waitForKill, false); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	blocked := make(chan struct{})
	entry := &WatchEntry{
		Pattern: regexp.MustCompile(`.`),
		Action: func(ctx context.Context, line string) error {
			close(blocked)
			<-ctx.Done()
			return ctx.Err()
		},
	}

	s.SpawnReactive(entry, "x")
	<-blocked

	if s.ChildCount() != 1 {
		t.Fatalf("expected 1 child task, got %d", s.ChildCount())
	}

	s.Kill()
	waitDone(t, s)

	if s.ChildCount() != 0 {
		t.Errorf("expected children reaped at shutdown, got %d", s.ChildCount())
	}
}

func TestSpawnReactiveRejectedWhileHalting(t *testing.T) {
	r := newTestRegistry()
	s := New("short", r, WithQuiet())

	if err := s.Start(func(ctx context.Context, s *Script) (any, error) {
		return nil, nil
	}, false); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, s)

	entry := &WatchEntry{
		Pattern: regexp.MustCompile(`.`),
		Action:  func(ctx context.Context, line string) error { return nil },
	}
	if id := s.SpawnReactive(entry, "x"); id != "" {
		t.Error("halting script accepted a reactive task")
	}
	if err := s.Watchfor(entry.Pattern, entry.Action); !errors.Is(err, ErrHalting) {
		t.Errorf("expected ErrHalting, got %v", err)
	}
}

func TestCurrentResolvesFromContext(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "ctxowner")

	ctx := NewContext(context.Background(), s)

	got, err := Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got != s {
		t.Error("Current resolved the wrong script")
	}

	if _, err := Current(context.Background()); !errors.Is(err, ErrNoCurrent) {
		t.Errorf("expected ErrNoCurrent, got %v", err)
	}
}

func TestCurrentWaitsWhilePaused(t *testing.T) {
	r := newTestRegistry()
	s := blockedScript(t, r, "ctxowner")
	s.Pause()

	ctx := NewContext(context.Background(), s)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := Current(waitCtx); err == nil {
		t.Error("Current should block while the script is paused")
	}

	s.Unpause()
	if _, err := Current(ctx); err != nil {
		t.Errorf("Current after unpause failed: %v", err)
	}
}
