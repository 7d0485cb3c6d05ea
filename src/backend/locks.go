package backend

import "sync"

// Locks serializes mutating operations per backup id. Each backend instance
// owns one; Acquire fails with ErrBusy instead of blocking so a second
// create/restore/delete against the same id surfaces immediately.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// Acquire takes the lock for id and returns the release function. The
// release function is safe to call exactly once, typically via defer.
func (l *Locks) Acquire(id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, ErrBusy
	}
	l.held[id] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, id)
		l.mu.Unlock()
	}, nil
}
