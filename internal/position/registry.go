// internal/position/registry.go
// Package position bounds how many positions the bot holds at once and
// guarantees one position per mint.
package position

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is the concurrency gate for the whole pipeline. A slot must
// be acquired before any entry work starts and released on every path
// except a deliberate manual-intervention hold.
type Registry struct {
	mu       sync.Mutex
	active   map[string]struct{}
	capacity int
	logger   *zap.Logger
}

// NewRegistry creates a registry with the given capacity.
func NewRegistry(capacity int, logger *zap.Logger) *Registry {
	if capacity <= 0 {
		panic("position: registry capacity must be positive")
	}
	return &Registry{
		active:   make(map[string]struct{}, capacity),
		capacity: capacity,
		logger:   logger.Named("registry"),
	}
}

// TryAcquire reserves a slot for mint. It returns false when the mint
// is already held or the registry is at capacity.
func (r *Registry) TryAcquire(mint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.active[mint]; held {
		r.logger.Debug("Mint already held", zap.String("mint", mint))
		return false
	}
	if len(r.active) >= r.capacity {
		r.logger.Debug("Registry at capacity",
			zap.String("mint", mint),
			zap.Int("capacity", r.capacity))
		return false
	}

	r.active[mint] = struct{}{}
	return true
}

// Release frees the slot for mint. Releasing a mint that is not held is
// a no-op.
func (r *Registry) Release(mint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, mint)
}

// Count returns the number of held slots.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Active returns a snapshot of held mints.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	mints := make([]string, 0, len(r.active))
	for mint := range r.active {
		mints = append(mints, mint)
	}
	return mints
}
