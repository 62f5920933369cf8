package runner

import (
	"context"
	"sync"
)

// MutexRegistry hands out named locks shared by every task of a run.
type MutexRegistry struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMutexRegistry creates an empty registry.
func NewMutexRegistry() *MutexRegistry {
	return &MutexRegistry{locks: make(map[string]chan struct{})}
}

func (m *MutexRegistry) lock(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = make(chan struct{}, 1)
		m.locks[name] = l
	}
	return l
}

// Acquire blocks until the named lock is free or ctx ends. The returned
// function releases the lock.
func (m *MutexRegistry) Acquire(ctx context.Context, name string) (func(), error) {
	l := m.lock(name)
	select {
	case l <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
