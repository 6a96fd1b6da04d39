package versioning

import (
	"sync"
	"testing"
	"time"
)

func TestProjectLocks_SerializesSameProject(t *testing.T) {
	locks := NewProjectLocks()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("p1")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
	if locks.Len() != 0 {
		t.Errorf("Len() = %d after release, want 0", locks.Len())
	}
}

func TestProjectLocks_IndependentProjects(t *testing.T) {
	locks := NewProjectLocks()
	unlockA := locks.Lock("a")

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on project b blocked behind project a")
	}
	if locks.Len() != 1 {
		t.Errorf("Len() = %d, want 1", locks.Len())
	}
	unlockA()
	unlockA()
	if locks.Len() != 0 {
		t.Errorf("Len() = %d after double unlock, want 0", locks.Len())
	}
}
