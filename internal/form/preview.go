package form

import (
	"fmt"
	"sync"
)

// counterAllocator issues process-unique preview URLs. Revoke is a no-op
// beyond bookkeeping; the scheme exists so owners can hold a stable
// reference to an attached file until it is replaced or cleared.
type counterAllocator struct {
	mu sync.Mutex
	n  int
}

// NewPreviewAllocator returns the default preview URL allocator.
func NewPreviewAllocator() PreviewAllocator {
	return &counterAllocator{}
}

func (a *counterAllocator) Create(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return fmt.Sprintf("preview://%d/%s", a.n, name)
}

func (a *counterAllocator) Revoke(string) {}
