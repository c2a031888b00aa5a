package schedule

import "sync"

// Locks serialises runs per scout id. A fire that finds the lock held skips
// instead of queueing, so slow runs never stack behind each other.
type Locks struct {
	mu   sync.Mutex
	held map[int64]bool
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{held: make(map[int64]bool)}
}

// TryLock takes the lock for id. The second return is false when another
// run already holds it; otherwise the returned func releases the lock.
func (l *Locks) TryLock(id int64) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return nil, false
	}
	l.held[id] = true
	return func() {
		l.mu.Lock()
		delete(l.held, id)
		l.mu.Unlock()
	}, true
}

// Held reports whether id's lock is currently taken.
func (l *Locks) Held(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id]
}
