package dispatch

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dshills/mudlark/internal/script"
)

func newRunning(t *testing.T, r *script.Registry, name string, opts ...script.Option) *script.Script {
	t.Helper()

	opts = append([]script.Option{script.WithQuiet(), script.WithJoinTimeout(time.Second)}, opts...)
	s := script.New(name, r, opts...)
	body := func(ctx context.Context, s *script.Script) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := s.Start(body, false); err != nil {
		t.Fatalf("failed to start %s: %v", name, err)
	}
	t.Cleanup(func() {
		s.Kill()
		<-s.Done()
	})
	return s
}

func TestDispatchDownstreamGatedByWantFlag(t *testing.T) {
	r := script.NewRegistry()
	d := New(r, nil)

	wants := newRunning(t, r, "wants")
	ignores := newRunning(t, r, "ignores")
	ignores.SetWantsDownstream(false)

	d.Downstream("a wild line appears")

	if got := wants.Downstream().Len(); got != 1 {
		t.Errorf("subscribed script should receive the line, got %d", got)
	}
	if got := ignores.Downstream().Len(); got != 0 {
		t.Errorf("unsubscribed script should not receive the line, got %d", got)
	}
}

func TestDispatchClassRouting(t *testing.T) {
	r := script.NewRegistry()
	d := New(r, nil)

	s := newRunning(t, r, "omnivore")
	s.SetWantsDownstream(true)
	s.SetWantsDownstreamRaw(true)
	s.SetWantsUpstream(true)
	s.SetWantsScriptOutput(true)

	d.Downstream("plain")
	d.DownstreamRaw("<b>raw</b>")
	d.Upstream("look")
	d.ScriptOutput("from-sibling")

	// Plain, raw, and script output all land in the downstream buffer.
	if got := s.Downstream().Len(); got != 3 {
		t.Errorf("expected 3 downstream-buffer lines, got %d", got)
	}
	if got := s.Upstream().Len(); got != 1 {
		t.Errorf("expected 1 upstream line, got %d", got)
	}
}

func TestDispatchDefaultFlags(t *testing.T) {
	r := script.NewRegistry()
	d := New(r, nil)

	s := newRunning(t, r, "defaults")

	d.DownstreamRaw("<b>raw</b>")
	d.Upstream("look")
	d.ScriptOutput("noise")

	// Only plain downstream is wanted by default.
	if got := s.Downstream().Len(); got != 0 {
		t.Errorf("expected no lines for default flags, got %d", got)
	}
	if got := s.Upstream().Len(); got != 0 {
		t.Errorf("expected no upstream lines by default, got %d", got)
	}

	d.Downstream("plain")
	if got := s.Downstream().Len(); got != 1 {
		t.Errorf("expected plain downstream delivered by default, got %d", got)
	}
}

func TestDispatchBufferOrderPerScript(t *testing.T) {
	r := script.NewRegistry()
	d := New(r, nil)

	s := newRunning(t, r, "ordered")

	for _, text := range []string{"first", "second", "third"} {
		d.Downstream(text)
	}

	for _, want := range []string{"first", "second", "third"} {
		got, ok := s.Downstream().TryPop()
		if !ok || got != want {
			t.Fatalf("expected %q, got %q ok=%v", want, got, ok)
		}
	}
}

func TestDispatchSpawnsOneTaskPerMatch(t *testing.T) {
	r := script.NewRegistry()
	d := New(r, nil)

	s := newRunning(t, r, "beta")

	var mu sync.Mutex
	runs := 0
	ran := make(chan struct{}, 4)
	err := s.Watchfor(regexp.MustCompile(`^go$`), func(ctx context.Context, line string) error {
		mu.Lock()
		runs++
		mu.Unlock()
		ran <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Watchfor failed: %v", err)
	}

	d.Downstream("go")
	d.Downstream("stay") // must not match

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("watch action did not run")
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("expected exactly one action run, got %d", runs)
	}
}

func TestDispatchWatchErrorDoesNotAffectSiblings(t *testing.T) {
	r := script.NewRegistry()
	d := New(r, nil)

	noisy := newRunning(t, r, "noisy", script.WithSilent())
	calm := newRunning(t, r, "calm")

	ran := make(chan struct{})
	err := noisy.Watchfor(regexp.MustCompile(`.`), func(ctx context.Context, line string) error {
		close(ran)
		panic("reactive failure")
	})
	if err != nil {
		t.Fatalf("Watchfor failed: %v", err)
	}

	d.Downstream("trigger")

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("watch action did not run")
	}

	time.Sleep(20 * time.Millisecond)
	if noisy.Terminated() || calm.Terminated() {
		t.Error("watch failure must not terminate any script")
	}
	if got := calm.Downstream().Len(); got != 1 {
		t.Errorf("sibling should still receive the line, got %d", got)
	}
}

func TestDispatchConcurrentSafe(t *testing.T) {
	r := script.NewRegistry()
	d := New(r, nil)

	s := newRunning(t, r, "sink")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				d.Downstream("line")
			}
		}()
	}
	wg.Wait()

	if got := s.Downstream().Len(); got != 100 {
		t.Errorf("expected 100 lines delivered, got %d", got)
	}
}

func TestClassString(t *testing.T) {
	tests := []struct {
		class Class
		want  string
	}{
		{ClassDownstream, "downstream"},
		{ClassDownstreamRaw, "downstream-raw"},
		{ClassUpstream, "upstream"},
		{ClassScriptOutput, "script-output"},
		{Class(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("Class(%d).String() = %q, want %q", tt.class, got, tt.want)
		}
	}
}
