package distjoin

import (
	"sync"
)

// Releasable represents any resource backed by Arrow memory.
//
// DataFrames and Partitioned tables implement it. Always call Release()
// when done with a resource:
//
//	out, err := cluster.Join(ctx, left, right, opts)
//	if err != nil {
//		return err
//	}
//	defer out.Release()
type Releasable interface {
	Release()
}

// MemoryManager tracks resources and releases them together.
//
// It is useful when a failure halfway through building many partitions must
// free the ones already built. The MemoryManager is safe for concurrent use
// from multiple goroutines.
type MemoryManager struct {
	resources []Releasable
	mu        sync.Mutex
}

// NewMemoryManager creates an empty memory manager
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{}
}

// Track adds a resource to be managed. Nil resources are ignored.
func (m *MemoryManager) Track(resource Releasable) {
	if resource == nil {
		return
	}
	m.mu.Lock()
	m.resources = append(m.resources, resource)
	m.mu.Unlock()
}

// Count returns the number of tracked resources
func (m *MemoryManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

// Forget stops tracking every resource without releasing it, handing
// ownership back to the caller.
func (m *MemoryManager) Forget() {
	m.mu.Lock()
	m.resources = m.resources[:0]
	m.mu.Unlock()
}

// ReleaseAll releases all tracked resources and clears the tracking list
func (m *MemoryManager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, resource := range m.resources {
		resource.Release()
	}
	m.resources = m.resources[:0]
}

// WithMemoryManager runs fn with a fresh manager and releases whatever is
// still tracked when fn returns.
func WithMemoryManager(fn func(*MemoryManager) error) error {
	manager := NewMemoryManager()
	defer manager.ReleaseAll()
	return fn(manager)
}
