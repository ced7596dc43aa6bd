package script

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBufferFIFO(t *testing.T) {
	b := NewBuffer()
	b.Push("one")
	b.Push("two")
	b.Push("three")

	for _, want := range []string{"one", "two", "three"} {
		got, ok := b.TryPop()
		if !ok {
			t.Fatalf("expected line %q, buffer empty", want)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}

	if _, ok := b.TryPop(); ok {
		t.Error("expected empty buffer after draining")
	}
}

func TestBufferTryPopEmpty(t *testing.T) {
	b := NewBuffer()
	if line, ok := b.TryPop(); ok {
		t.Errorf("expected empty result, got %q", line)
	}
}

func TestBufferPopBlocks(t *testing.T) {
	b := NewBuffer()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Push("late")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	line, err := b.Pop(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line != "late" {
		t.Errorf("expected %q, got %q", "late", line)
	}
}

func TestBufferPopCancelled(t *testing.T) {
	b := NewBuffer()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.Pop(ctx); err == nil {
		t.Error("expected context error from Pop on empty buffer")
	}
}

func TestBufferDrain(t *testing.T) {
	b := NewBuffer()
	b.Push("a")
	b.Push("b")

	lines := b.Drain()
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Errorf("unexpected drain result: %v", lines)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after drain, got %d", b.Len())
	}
	if got := b.Drain(); len(got) != 0 {
		t.Errorf("expected nothing from second drain, got %v", got)
	}
}

func TestBufferProducerOrder(t *testing.T) {
	// Per-buffer FIFO must hold for any interleaving of producers: each
	// producer's lines appear in its own push order.
	b := NewBuffer()

	const producers = 4
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Push(fmt.Sprintf("%d:%d", p, i))
			}
		}(p)
	}
	wg.Wait()

	last := make(map[string]int)
	for p := 0; p < producers; p++ {
		last[fmt.Sprintf("%d", p)] = -1
	}

	count := 0
	for {
		line, ok := b.TryPop()
		if !ok {
			break
		}
		count++

		var p, i int
		if _, err := fmt.Sscanf(line, "%d:%d", &p, &i); err != nil {
			t.Fatalf("malformed line %q: %v", line, err)
		}
		key := fmt.Sprintf("%d", p)
		if i <= last[key] {
			t.Fatalf("producer %d out of order: %d after %d", p, i, last[key])
		}
		last[key] = i
	}

	if count != producers*perProducer {
		t.Errorf("expected %d lines, got %d", producers*perProducer, count)
	}
}

func TestBufferMultipleConsumers(t *testing.T) {
	b := NewBuffer()
	const total = 100

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan string, total)
	var wg sync.WaitGroup
	for c := 0; c < 3; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				line, err := b.Pop(ctx)
				if err != nil {
					return
				}
				results <- line
			}
		}()
	}

	for i := 0; i < total; i++ {
		b.Push(fmt.Sprintf("line-%d", i))
	}

	seen := make(map[string]bool)
	for i := 0; i < total; i++ {
		select {
		case line := <-results:
			if seen[line] {
				t.Fatalf("line delivered twice: %q", line)
			}
			seen[line] = true
		case <-ctx.Done():
			t.Fatalf("timed out after %d lines", i)
		}
	}

	cancel()
	wg.Wait()
}
