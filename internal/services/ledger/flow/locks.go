package flow

import "sync"

// Locks gives one in-flight transaction at a time exclusive use of a record
// id on this node.
type Locks struct {
	mu   sync.Mutex
	held map[string]string
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]string)}
}

// TryAcquire takes every id for owner, or none of them. Ids owner already
// holds count as acquired.
func (l *Locks) TryAcquire(owner string, ids ...string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]string)
	}
	for _, id := range ids {
		if holder, ok := l.held[id]; ok && holder != owner {
			return false
		}
	}
	for _, id := range ids {
		l.held[id] = owner
	}
	return true
}

// Release frees the ids owner holds. Ids held by someone else are untouched.
func (l *Locks) Release(owner string, ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if l.held[id] == owner {
			delete(l.held, id)
		}
	}
}

// Holder reports who holds id.
func (l *Locks) Holder(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	holder, ok := l.held[id]
	return holder, ok
}
