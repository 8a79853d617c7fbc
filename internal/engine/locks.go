package engine

import "sync"

// addrLocks serializes mutations per hardware address. At most one mutation
// is in flight per device at a time; different devices proceed in parallel.
type addrLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAddrLocks() *addrLocks {
	return &addrLocks{locks: make(map[string]*sync.Mutex)}
}

// lock blocks until the device's lock is held and returns the release func.
func (l *addrLocks) lock(hwAddr string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[hwAddr]
	if !ok {
		m = &sync.Mutex{}
		l.locks[hwAddr] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
