package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SessionCache holds at most one loaded session per model kind. Concurrent
// requests for the same kind share a single in-flight load. Failed loads
// are not cached so a later request retries.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	done    chan struct{}
	session Session
	err     error
}

func NewSessionCache() *SessionCache {
	return &SessionCache{
		entries: map[string]*sessionEntry{},
	}
}

func (c *SessionCache) Get(ctx context.Context, kind string, load LoadModelFunc) (Session, error) {
	c.mu.Lock()
	e, ok := c.entries[kind]
	if !ok {
		e = &sessionEntry{done: make(chan struct{})}
		c.entries[kind] = e
		c.mu.Unlock()

		e.session, e.err = safeLoad(ctx, kind, load)
		if e.err != nil {
			c.mu.Lock()
			if c.entries[kind] == e {
				delete(c.entries, kind)
			}
			c.mu.Unlock()
		}
		close(e.done)
		return e.session, e.err
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.session, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loaded reports whether a session of the given kind is cached.
func (c *SessionCache) Loaded(kind string) bool {
	c.mu.Lock()
	e, ok := c.entries[kind]
	c.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-e.done:
		return e.err == nil
	default:
		return false
	}
}

// Close releases every cached session and empties the cache.
func (c *SessionCache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = map[string]*sessionEntry{}
	c.mu.Unlock()

	var errs []error
	for kind, e := range entries {
		<-e.done
		if e.err != nil || e.session == nil {
			continue
		}
		if err := e.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s session: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

func safeLoad(ctx context.Context, kind string, load LoadModelFunc) (s Session, err error) {
	if load == nil {
		return nil, fmt.Errorf("no loader for %s model", kind)
	}

	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = fmt.Errorf("loading %s model panicked: %v", kind, r)
		}
	}()

	s, err = load(ctx)
	if err == nil && s == nil {
		err = fmt.Errorf("loading %s model returned no session", kind)
	}
	return s, err
}
