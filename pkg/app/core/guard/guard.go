// Package guard provides the keyed mutual exclusion and reentrancy detection
// used by the exchange engine.
//
// A Keyed guard serializes holders of the same key while letting different keys
// proceed in parallel. Acquisition honours context cancellation. Slots are
// reference counted and dropped once the last holder leaves.
package guard

import (
	"context"
	"errors"
	"sync"
)

// ErrReentrant is returned when a call chain re-enters a scope it already holds
var ErrReentrant = errors.New("guard: reentrant call")

type slot struct {
	holders int
	sem     chan struct{}
}

// Keyed is a map of one-slot semaphores
type Keyed[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*slot
}

func NewKeyed[K comparable]() *Keyed[K] {
	return &Keyed[K]{slots: make(map[K]*slot)}
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (g *Keyed[K]) Lock(ctx context.Context, key K) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	s, ok := g.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		g.slots[key] = s
	}
	s.holders++
	g.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		g.leave(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			g.leave(key, s)
		})
	}, nil
}

func (g *Keyed[K]) leave(key K, s *slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s.holders--
	if s.holders == 0 {
		delete(g.slots, key)
	}
}

// Slots returns the number of keys currently held or awaited
func (g *Keyed[K]) Slots() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}

// Scope marks a call chain as running inside a guarded section. A scope is
// carried by the context, so callbacks invoked with the same context see it.
type Scope struct {
	name string
}

func NewScope(name string) *Scope { return &Scope{name: name} }

func (s *Scope) String() string { return s.name }

type scopeKey struct{ s *Scope }

// Enter fails with ErrReentrant when ctx is already inside s
func (s *Scope) Enter(ctx context.Context) (context.Context, error) {
	if s.Active(ctx) {
		return ctx, ErrReentrant
	}
	return context.WithValue(ctx, scopeKey{s}, true), nil
}

// Active reports whether ctx carries s
func (s *Scope) Active(ctx context.Context) bool {
	v, _ := ctx.Value(scopeKey{s}).(bool)
	return v
}
