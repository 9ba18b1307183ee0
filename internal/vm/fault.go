package vm

import (
	"go.uber.org/zap"

	"github.com/orizon-lang/pagevm/internal/part"
)

// PageFault services a fault previously reported by Access for the
// same address: it finds a frame (allocating one, or evicting the
// clock victim and writing it to swap if it is dirty or already has
// swap contents), reads the page in from
// swap when it has contents there, and links the entry into the
// replacement ring. Safe to call out of sequence: an invalid address
// or page returns Trap, an already-resident page returns OK untouched.
func (p *Process) PageFault(v VirtualAddress) Status {
	if !vaddrValid(v) {
		return Trap
	}
	s := p.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	t1 := p.l0[l0Index(v)]
	if t1 == nil {
		return Trap
	}
	e := &t1.entries[l1Index(v)]
	if e.flags.Load()&flagValid == 0 {
		return Trap
	}
	if e.has(flagMapped) {
		return OK
	}

	if frame, ok := s.frameAlloc.Alloc(); ok {
		// Fast path: a free frame exists, no eviction. A swap-resident
		// page is read in; its cluster number is simply overwritten by
		// the frame number below.
		if e.has(flagSwapped) {
			s.disk.ReadCluster(part.ClusterNo(e.loc()), s.frameBytes(uint32(frame)))
		} else {
			clear(s.frameBytes(uint32(frame)))
		}
		e.setLoc(uint32(frame))
	} else {
		// Eviction path. Reserve a cluster first so a dirty victim
		// always has somewhere to go.
		c, ok := s.clusterAlloc.Take()
		if !ok {
			s.log.Warn("page fault with no frames and no clusters",
				zap.Uint32("pid", uint32(p.pid)), zap.Uint32("vaddr", uint32(v)))
			return Trap
		}
		victim := s.getVictim()
		if victim == nil {
			s.clusterAlloc.Free(c)
			return Trap
		}
		frame := victim.loc()

		if victim.has(flagSwapped | flagDirty) {
			s.disk.WriteCluster(c, s.frameBytes(frame))
			victim.setLoc(uint32(c))
			victim.clearStatus(flagDirty)
			victim.setStatus(flagSwapped)
		} else {
			// Clean and never written: the contents are discardable.
			s.clusterAlloc.Free(c)
		}
		victim.clearStatus(flagMapped)
		s.evictions.Add(1)
		s.log.Debug("evicted frame",
			zap.Uint32("frame", frame), zap.Uint32("pid", uint32(p.pid)))

		if e.has(flagSwapped) {
			s.disk.ReadCluster(part.ClusterNo(e.loc()), s.frameBytes(frame))
		} else {
			clear(s.frameBytes(frame))
		}
		e.setLoc(frame)
	}

	e.setStatus(flagMapped | flagReference)
	e.clearStatus(flagDirty)
	if e.shared != nil {
		e.shared.rep = e
	}
	s.linkBeforeHand(e)
	s.faults.Add(1)
	return OK
}

// GetPhysicalAddress translates a resident page's address to the byte
// offset in the process frame region and marks the page referenced.
// Valid only after Access returned OK and before any intervening
// eviction; a nonresident or invalid page returns Trap.
func (p *Process) GetPhysicalAddress(v VirtualAddress) (PhysicalAddress, Status) {
	if !vaddrValid(v) {
		return 0, Trap
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	t1 := p.l0[l0Index(v)]
	if t1 == nil {
		return 0, Trap
	}
	e := &t1.entries[l1Index(v)]
	flags := e.load()
	if flags&flagValid == 0 || flags&flagMapped == 0 {
		return 0, Trap
	}
	e.setStatus(flagReference)
	return PhysicalAddress(e.loc()*FrameSize + offsetOf(v)), OK
}
