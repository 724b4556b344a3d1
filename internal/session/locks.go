package session

import "sync"

// tokenLocks hands out one mutex per token so that conversation
// read-modify-write cycles serialize per identity while different tokens
// proceed independently. Entries are never reclaimed; the universe of
// active tokens is small and bounded by enrollment.
type tokenLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTokenLocks() *tokenLocks {
	return &tokenLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for token and returns its unlock function.
func (t *tokenLocks) lock(token string) func() {
	t.mu.Lock()
	m, ok := t.locks[token]
	if !ok {
		m = &sync.Mutex{}
		t.locks[token] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
