package orchestrator

import "sync"

// userMutex serializes event handling per user. Events from different
// users proceed in parallel; two messages from the same user are applied
// to that user's conversation state one at a time.
type userMutex struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserMutex() *userMutex {
	return &userMutex{locks: make(map[string]*userLock)}
}

// Lock acquires the lock for userID and returns its unlock func. Lock
// entries are reference counted and removed when the last holder unlocks,
// so the map does not grow with the user population.
func (m *userMutex) Lock(userID string) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}
