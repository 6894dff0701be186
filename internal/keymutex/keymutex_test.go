package keymutex

import (
	"sync"
	"testing"
)

func TestMutex_SerializesPerKey(t *testing.T) {
	m := New()
	const workers = 32
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := m.Lock("k")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != workers {
		t.Fatalf("counter = %d, want %d", counter, workers)
	}
}

func TestMutex_IndependentKeys(t *testing.T) {
	m := New()
	unlockA := m.Lock("a")
	// A different key must not block.
	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestMutex_ReleasesEntries(t *testing.T) {
	m := New()
	for i := 0; i < 100; i++ {
		unlock := m.Lock("k")
		unlock()
	}
	m.mu.Lock()
	n := len(m.locks)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries = %d, want 0 after all unlocks", n)
	}
}
