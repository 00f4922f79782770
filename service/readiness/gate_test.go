package readiness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentCallersTriggerOneLoad(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	g := New(func(done func(error)) {
		calls.Add(1)
		go func() {
			<-release
			done(nil)
		}()
	})

	const n = 10
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Ready(context.Background(), time.Second)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Ready failed: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one load trigger, got %d", got)
	}
	if !g.IsReady() {
		t.Error("expected gate to be ready")
	}
}

func TestReadyPassesImmediatelyAfterSuccess(t *testing.T) {
	var calls atomic.Int32
	g := New(func(done func(error)) {
		calls.Add(1)
		done(nil)
	})

	if err := g.Ready(context.Background(), time.Second); err != nil {
		t.Fatalf("first Ready failed: %v", err)
	}

	start := time.Now()
	if err := g.Ready(context.Background(), time.Nanosecond); err != nil {
		t.Fatalf("second Ready failed: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("expected an immediate return once ready")
	}
	if calls.Load() != 1 {
		t.Errorf("expected one trigger, got %d", calls.Load())
	}
}

func TestReadyTimesOut(t *testing.T) {
	g := New(func(done func(error)) {
		// never completes
	})

	err := g.Ready(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestTimedOutCallerLeavesLoadInFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	g := New(func(done func(error)) {
		calls.Add(1)
		go func() {
			<-release
			done(nil)
		}()
	})

	if err := g.Ready(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- g.Ready(context.Background(), time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	if err := <-errs; err != nil {
		t.Fatalf("expected the later caller to join the load, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected one load trigger, got %d", got)
	}
	if !g.IsReady() {
		t.Error("expected gate to be ready")
	}
}

func TestFailedLoadRearms(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	g := New(func(done func(error)) {
		if calls.Add(1) == 1 {
			done(boom)
			return
		}
		done(nil)
	})

	if err := g.Ready(context.Background(), time.Second); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if g.IsReady() {
		t.Fatal("gate must not be ready after a failed load")
	}
	if err := g.Ready(context.Background(), time.Second); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 triggers, got %d", calls.Load())
	}
}

func TestReadyHonorsContext(t *testing.T) {
	g := New(func(done func(error)) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Ready(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPanickingLoaderFails(t *testing.T) {
	g := New(func(done func(error)) {
		panic("wasm exploded")
	})

	if err := g.Ready(context.Background(), time.Second); err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected load failure, got %v", err)
	}
}
