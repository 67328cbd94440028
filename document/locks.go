package document

import (
	"context"
	"path/filepath"
	"sync"
)

// Locks is a registry of advisory per-path locks. It only coordinates
// Files opened with the same Locks value; it takes no OS-level lock.
type Locks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]chan struct{})}
}

// Lock blocks until path is free or ctx is done. The returned function
// releases the lock and may be called more than once.
func (l *Locks) Lock(ctx context.Context, path string) (func(), error) {
	key := lockKey(path)
	for {
		l.mu.Lock()
		if l.held == nil {
			l.held = make(map[string]chan struct{})
		}
		busy, ok := l.held[key]
		if !ok {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Held reports whether path is currently locked.
func (l *Locks) Held(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[lockKey(path)]
	return ok
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
