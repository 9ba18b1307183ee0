package mem

import (
	"sync"

	"github.com/orizon-lang/pagevm/internal/part"
)

// ClusterAllocator hands out swap-partition cluster numbers. Freed
// clusters are reused LIFO before unused ones are touched. Free does
// not detect double frees, matching the behavior the paging core was
// built against.
type ClusterAllocator struct {
	mu         sync.Mutex
	total      part.ClusterNo
	nextUnused part.ClusterNo
	freed      []part.ClusterNo
}

// NewClusterAllocator creates an allocator over total clusters.
func NewClusterAllocator(total part.ClusterNo) *ClusterAllocator {
	return &ClusterAllocator{total: total}
}

// Take reserves a cluster, returning false when the partition is full.
func (a *ClusterAllocator) Take() (part.ClusterNo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freed); n > 0 {
		c := a.freed[n-1]
		a.freed = a.freed[:n-1]
		return c, true
	}
	if a.nextUnused < a.total {
		c := a.nextUnused
		a.nextUnused++
		return c, true
	}
	return 0, false
}

// Free returns a cluster to the allocator.
func (a *ClusterAllocator) Free(c part.ClusterNo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freed = append(a.freed, c)
}

// FreeCount returns the number of clusters currently available.
func (a *ClusterAllocator) FreeCount() part.ClusterNo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return part.ClusterNo(len(a.freed)) + (a.total - a.nextUnused)
}

// Size returns the partition size in clusters.
func (a *ClusterAllocator) Size() part.ClusterNo { return a.total }
