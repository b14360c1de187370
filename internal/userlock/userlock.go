// Package userlock serializes work per user id.
package userlock

import "sync"

// Locker hands out one mutex per key. Entries are reference counted
// and dropped once nobody holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Locker {
	return &Locker{locks: map[int64]*entry{}}
}

// Lock blocks until the caller owns key and returns the matching unlock.
func (l *Locker) Lock(key int64) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len is the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
