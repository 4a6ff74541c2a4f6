package updater

import "sync"

// sessionLock allows one update session per container.
type sessionLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newSessionLock() *sessionLock {
	return &sessionLock{held: map[string]struct{}{}}
}

// TryLock claims key. It never waits.
func (l *sessionLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *sessionLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// Held reports whether any session is running.
func (l *sessionLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held) > 0
}
