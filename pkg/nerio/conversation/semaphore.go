package conversation

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// SemaphoreRegistry lazily creates one mutual-exclusion semaphore per
// instance id. Every conversation-mutating operation for an instance must
// hold its semaphore, so no two such operations run concurrently.
//
// Semaphores are never removed: instance cardinality is small and bounded
// by configured tenants.
type SemaphoreRegistry struct {
	mu   sync.RWMutex
	sems map[string]*semaphore.Weighted
}

// NewSemaphoreRegistry creates an empty registry.
func NewSemaphoreRegistry() *SemaphoreRegistry {
	return &SemaphoreRegistry{
		sems: make(map[string]*semaphore.Weighted),
	}
}

// GetOrCreate returns the semaphore for instanceID, creating it on first
// use. Concurrent first-use callers for the same id receive the same
// semaphore.
func (r *SemaphoreRegistry) GetOrCreate(instanceID string) *semaphore.Weighted {
	r.mu.RLock()
	if sem, ok := r.sems[instanceID]; ok {
		r.mu.RUnlock()
		return sem
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if sem, ok := r.sems[instanceID]; ok {
		return sem
	}

	sem := semaphore.NewWeighted(1)
	r.sems[instanceID] = sem
	return sem
}

// Len reports how many instance semaphores exist.
func (r *SemaphoreRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sems)
}
