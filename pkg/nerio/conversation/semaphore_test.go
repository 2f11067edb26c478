package conversation

import (
	"fmt"
	"sync"
	"testing"
)

func TestSemaphoreRegistryReturnsSameSemaphore(t *testing.T) {
	reg := NewSemaphoreRegistry()

	a := reg.GetOrCreate("i1")
	b := reg.GetOrCreate("i1")
	if a != b {
		t.Error("same instance id returned different semaphores")
	}

	c := reg.GetOrCreate("i2")
	if a == c {
		t.Error("different instance ids share a semaphore")
	}

	if got := reg.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestSemaphoreRegistryMutualExclusion(t *testing.T) {
	reg := NewSemaphoreRegistry()
	sem := reg.GetOrCreate("i1")

	if !sem.TryAcquire(1) {
		t.Fatal("first acquire failed")
	}
	if sem.TryAcquire(1) {
		t.Fatal("second acquire succeeded while held")
	}
	sem.Release(1)
	if !sem.TryAcquire(1) {
		t.Fatal("acquire after release failed")
	}
	sem.Release(1)
}

func TestSemaphoreRegistryConcurrentFirstUse(t *testing.T) {
	reg := NewSemaphoreRegistry()

	const n = 50
	sems := make([]any, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			// Half the goroutines race on one id, half spread out.
			id := "shared"
			if i%2 == 0 {
				id = fmt.Sprintf("i%d", i)
			}
			sems[i] = reg.GetOrCreate(id)
		}(i)
	}
	wg.Wait()

	// Every goroutine racing on the shared id got the same semaphore.
	var shared any
	for i := 1; i < n; i += 2 {
		if shared == nil {
			shared = sems[i]
			continue
		}
		if sems[i] != shared {
			t.Fatal("concurrent first use created multiple semaphores for one id")
		}
	}
}
