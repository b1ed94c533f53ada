package shutdown

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/logging"
)

func TestShutdown_PhaseOrder(t *testing.T) {
	c := New(logging.Discard())

	var mu sync.Mutex
	var order []string
	record := func(name string) Func {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	c.Register("flush", PhaseFlush, record("flush"))
	c.Register("conn", PhaseConnections, record("conn"))
	c.Register("listener", PhaseIngress, record("listener"))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	want := []string{"listener", "conn", "flush"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestShutdown_SamePhaseConcurrent(t *testing.T) {
	c := New(logging.Discard())

	// Both steps must be running at once for either to finish
	var wg sync.WaitGroup
	wg.Add(2)
	step := func(context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	c.Register("a", PhaseConnections, step)
	c.Register("b", PhaseConnections, step)

	done := make(chan error, 1)
	go func() { done <- c.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("steps in one phase did not run concurrently")
	}
}

func TestShutdown_ErrorsJoined(t *testing.T) {
	c := New(logging.Discard())

	boom := stderrors.New("boom")
	var ran int32
	c.Register("bad", PhaseConnections, func(context.Context) error { return boom })
	c.Register("later", PhaseFlush, func(context.Context) error {
		atomic.AddInt32(&ran, 1)
		return errors.Closed("already closed")
	})

	err := c.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !stderrors.Is(err, boom) {
		t.Errorf("joined error should wrap the step error: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Error("later phases must still run after a failure")
	}

	results := c.Results()
	if len(results) != 2 || results[0].Name != "bad" || results[0].Err == nil {
		t.Errorf("results = %+v", results)
	}
}

func TestShutdown_Timeout(t *testing.T) {
	c := New(logging.Discard())

	var flushed int32
	c.Register("slow", PhaseConnections, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.Register("flush", PhaseFlush, func(context.Context) error {
		atomic.AddInt32(&flushed, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Shutdown(ctx)
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
	if atomic.LoadInt32(&flushed) != 0 {
		t.Error("phases after the deadline must not run")
	}
}

func TestShutdown_Once(t *testing.T) {
	c := New(logging.Discard())

	var calls int32
	c.Register("step", PhaseConnections, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	c.Shutdown(context.Background())
	c.Shutdown(context.Background())

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestRun_WaitsForContext(t *testing.T) {
	c := New(logging.Discard())

	var ran int32
	c.Register("step", PhaseConnections, func(context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Second) }()

	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("Run must wait for ctx")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Error("step did not run")
	}
}
