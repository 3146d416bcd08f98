// internal/manifest/locks_test.go
package manifest

import (
	"sync"
	"testing"
	"time"
)

func TestItemLocksSerializeSameUID(t *testing.T) {
	locks := newItemLocks()

	release := locks.acquire([]string{"HT-0001"})
	acquired := make(chan struct{})
	go func() {
		r := locks.acquire([]string{"HT-0001"})
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the first holds the lock")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestItemLocksOverlappingBatches(t *testing.T) {
	locks := newItemLocks()

	// Opposite declaration order; sorted acquisition keeps the two
	// batches from deadlocking.
	var wg sync.WaitGroup
	for _, uids := range [][]string{
		{"HT-0001", "DV-0002", "CN-0003"},
		{"CN-0003", "HT-0001"},
		{"DV-0002", "CN-0003", "HT-0001"},
	} {
		wg.Add(1)
		go func(uids []string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				release := locks.acquire(uids)
				release()
			}
		}(uids)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping batches deadlocked")
	}
}

func TestItemLocksDedupe(t *testing.T) {
	locks := newItemLocks()
	// A duplicated UID in one batch must not self-deadlock.
	release := locks.acquire([]string{"HT-0001", "HT-0001"})
	release()
}
