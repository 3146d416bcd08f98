// internal/manifest/locks.go
package manifest

import (
	"sort"
	"sync"
)

// itemLocks serializes allocation decisions per item UID. The
// availability check and the ledger append are separate store calls, so
// without this guard two concurrent checkouts of the same singleton can
// both pass the check before either commits.
type itemLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newItemLocks() *itemLocks {
	return &itemLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *itemLocks) get(uid string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[uid]
	if !ok {
		m = &sync.Mutex{}
		l.locks[uid] = m
	}
	return m
}

// acquire locks the given item UIDs in sorted order and returns the
// matching release function. Sorted order keeps two overlapping batches
// from deadlocking each other.
func (l *itemLocks) acquire(uids []string) func() {
	sorted := make([]string, 0, len(uids))
	seen := make(map[string]bool, len(uids))
	for _, uid := range uids {
		if !seen[uid] {
			seen[uid] = true
			sorted = append(sorted, uid)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, uid := range sorted {
		m := l.get(uid)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
