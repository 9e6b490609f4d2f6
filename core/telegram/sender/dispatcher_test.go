package sender

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsQueuedJobs(t *testing.T) {
	d := NewDispatcher(Options{QueueSize: 4})

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
			ran.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	d.Close()

	if got := ran.Load(); got != 3 {
		t.Fatalf("ran %d jobs, want 3", got)
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("error count = %d, want 0", d.ErrorCount())
	}
}

func TestDispatcherSkipsExpiredContext(t *testing.T) {
	d := NewDispatcher(Options{QueueSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	err := d.Enqueue(ctx, "send.text", "sendMessage", func() error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if ran.Load() {
		t.Fatal("job ran despite an expired caller context")
	}
	if d.ErrorCount() != 1 {
		t.Fatalf("error count = %d, want 1", d.ErrorCount())
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(Options{QueueSize: 1})
	defer d.Close()

	release := make(chan struct{})
	blocker := func() error {
		<-release
		return nil
	}
	// First job occupies the single worker, second fills the queue.
	if err := d.Enqueue(context.Background(), "send.text", "sendMessage", blocker); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var full bool
	for i := 0; i < 10; i++ {
		err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error { return nil })
		if errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	if !full {
		t.Fatal("saturated queue never reported ErrQueueFull")
	}
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error { return nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close: %v, want ErrQueueClosed", err)
	}
}
