// Package mem provides the allocators backing the emulator's physical
// resources: process frames, page-map-table frames and swap clusters.
package mem

import (
	"fmt"
	"strings"
	"sync"
)

// FrameNum identifies a frame within an allocator's region.
type FrameNum uint32

// freeSegment is one run of free frames. Segments are kept in a
// singly-linked list sorted by ascending base and never overlap.
type freeSegment struct {
	next *freeSegment
	base FrameNum
	size uint32
}

// FrameAllocator manages a contiguous region of frames as a free list
// with coalescing. Allocation hands out the last frame of the first
// free segment, so the low end of the region stays contiguous as long
// as possible. Two instances serve the emulator: one for the process
// frame region and one for the page-map-table space.
type FrameAllocator struct {
	mu         sync.Mutex
	head       *freeSegment
	freeFrames uint32
	size       uint32
}

// NewFrameAllocator creates an allocator over a region of size frames,
// all initially free.
func NewFrameAllocator(size uint32) *FrameAllocator {
	a := &FrameAllocator{freeFrames: size, size: size}
	if size > 0 {
		a.head = &freeSegment{base: 0, size: size}
	}
	return a
}

// Alloc takes one frame, returning false when the region is exhausted.
func (a *FrameAllocator) Alloc() (FrameNum, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.head == nil {
		return 0, false
	}
	seg := a.head
	seg.size--
	frame := seg.base + FrameNum(seg.size)
	if seg.size == 0 {
		a.head = seg.next
	}
	a.freeFrames--
	return frame, true
}

// Dealloc returns a frame to the free list, coalescing with adjacent
// segments. Freeing a frame that is already free is a no-op.
func (a *FrameAllocator) Dealloc(frame FrameNum) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var prev *freeSegment
	cur := a.head
	for cur != nil && cur.base < frame {
		prev = cur
		cur = cur.next
	}

	if prev != nil && prev.base+FrameNum(prev.size) > frame {
		return // already free
	}
	if cur != nil && cur.base == frame {
		return // already free
	}

	seg := &freeSegment{next: cur, base: frame, size: 1}
	if prev != nil {
		prev.next = seg
	} else {
		a.head = seg
	}

	if tryMerge(prev, seg) {
		seg = prev
	}
	tryMerge(seg, cur)

	a.freeFrames++
}

func tryMerge(prev, next *freeSegment) bool {
	if prev == nil || next == nil || prev.base+FrameNum(prev.size) != next.base {
		return false
	}
	prev.size += next.size
	prev.next = next.next
	return true
}

// FreeCount returns the number of free frames.
func (a *FrameAllocator) FreeCount() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeFrames
}

// Size returns the region size in frames.
func (a *FrameAllocator) Size() uint32 { return a.size }

// IsFree reports whether frame lies inside any free segment.
func (a *FrameAllocator) IsFree(frame FrameNum) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for cur := a.head; cur != nil; cur = cur.next {
		if frame >= cur.base && frame < cur.base+FrameNum(cur.size) {
			return true
		}
	}
	return false
}

// DebugString renders the free list as "base(size)" pairs.
func (a *FrameAllocator) DebugString() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var b strings.Builder
	for cur := a.head; cur != nil; cur = cur.next {
		fmt.Fprintf(&b, "%d(%d)\n", cur.base, cur.size)
	}
	return b.String()
}
