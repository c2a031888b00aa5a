package schedule

import (
	"sync"
	"testing"
)

func TestTryLockPerScout(t *testing.T) {
	l := NewLocks()

	release, ok := l.TryLock(1)
	if !ok {
		t.Fatal("first TryLock failed")
	}
	if _, ok := l.TryLock(1); ok {
		t.Fatal("second TryLock on held id succeeded")
	}
	// A different scout is independent.
	release2, ok := l.TryLock(2)
	if !ok {
		t.Fatal("TryLock on a different id failed while 1 held")
	}
	release2()

	if !l.Held(1) {
		t.Error("Held(1) = false while locked")
	}
	release()
	if l.Held(1) {
		t.Error("Held(1) = true after release")
	}
	if _, ok := l.TryLock(1); !ok {
		t.Error("TryLock after release failed")
	}
}

func TestTryLockUnderContention(t *testing.T) {
	l := NewLocks()
	const goroutines = 32

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.TryLock(42); ok {
				mu.Lock()
				wins++
				mu.Unlock()
				// Hold until every goroutine has tried.
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d goroutines acquired the same lock, want 1", wins)
	}
}
