package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-liveness/service/lgr"
)

var ErrTimeout = errors.New("timed out waiting for image library readiness")

// LoadFunc triggers the asynchronous library load. done must be called once
// with the outcome.
type LoadFunc func(done func(error))

// Gate resolves once the image library reports ready. The load is triggered
// at most once per attempt regardless of how many callers wait. A failed
// attempt re-arms the gate; a caller that times out leaves the attempt in
// flight for later callers to join.
type Gate struct {
	load LoadFunc

	mu      sync.Mutex
	ready   bool
	pending *attempt
}

type attempt struct {
	done chan struct{}
	err  error
	once sync.Once
}

func (a *attempt) resolve(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func New(load LoadFunc) *Gate {
	return &Gate{
		load: load,
	}
}

// Ready blocks until the library is ready, the per-caller timeout elapses
// or ctx is cancelled. Once ready it returns immediately.
func (g *Gate) Ready(ctx context.Context, timeout time.Duration) error {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return nil
	}

	a := g.pending
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		g.pending = a
		g.mu.Unlock()
		g.trigger(a)
	} else {
		g.mu.Unlock()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return a.err
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

func (g *Gate) trigger(a *attempt) {
	if g.load == nil {
		g.settle(a, errors.New("no image library loader"))
		return
	}

	lgr.Logger.Info("readiness.trigger")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.settle(a, fmt.Errorf("image library load panicked: %v", r))
			}
		}()

		g.load(func(err error) {
			g.settle(a, err)
		})
	}()
}

func (g *Gate) settle(a *attempt, err error) {
	g.mu.Lock()
	if g.pending == a {
		if err == nil {
			g.ready = true
		}
		g.pending = nil
	}
	g.mu.Unlock()

	if err != nil {
		lgr.Logger.Error("readiness.settle", lgr.Err(err))
	} else {
		lgr.Logger.Info("readiness.settle", "ready", true)
	}

	a.resolve(err)
}
