package vm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/orizon-lang/pagevm/internal/mem"
	"github.com/orizon-lang/pagevm/internal/part"
)

// Process is one emulated address space: a level-0 table, the list of
// private segments and the shared segments it is connected to. All
// methods are safe for concurrent use.
type Process struct {
	pid     ProcessID
	sys     *System
	mu      sync.Mutex
	l0      *l0Table
	l0Frame mem.FrameNum

	segments []segmentDescr
	shared   []*sharedSegment

	destroyed bool
}

// Pid returns the process id.
func (p *Process) Pid() ProcessID { return p.pid }

// CreateSegment creates a private segment of size pages at start with
// the given rights. The pages become valid but stay nonresident until
// first fault.
func (p *Process) CreateSegment(start VirtualAddress, size PageNum, rights AccessType) Status {
	s := p.sys
	s.mu.RLock()
	defer s.mu.RUnlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.validateSegment(start, size, rights) != OK {
		return Trap
	}
	d := segmentDescr{start: start, size: size, rights: rights}
	if p.initEntries(d, nil) != OK {
		return Trap
	}
	p.segments = append(p.segments, d)
	return OK
}

// LoadSegment creates a segment whose initial contents come from
// content, written to freshly reserved swap clusters; the pages start
// swap-resident and fault in on first access. content may be shorter
// than the segment (the tail is zero) but not longer. All reservations
// roll back on failure.
func (p *Process) LoadSegment(start VirtualAddress, size PageNum, rights AccessType, content []byte) Status {
	s := p.sys
	s.mu.RLock()
	defer s.mu.RUnlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.validateSegment(start, size, rights) != OK {
		return Trap
	}
	if len(content) > int(size)*PageSize {
		return Trap
	}
	d := segmentDescr{start: start, size: size, rights: rights}
	if p.initEntries(d, nil) != OK {
		return Trap
	}

	clusters := make([]part.ClusterNo, 0, size)
	for i := PageNum(0); i < size; i++ {
		c, ok := s.clusterAlloc.Take()
		if !ok {
			for _, taken := range clusters {
				s.clusterAlloc.Free(taken)
			}
			p.dropEntries(d)
			s.log.Warn("swap space exhausted during load",
				zap.Uint32("pid", uint32(p.pid)), zap.Uint32("pages", uint32(size)))
			return Trap
		}
		clusters = append(clusters, c)
	}

	buf := make([]byte, PageSize)
	for i, c := range clusters {
		page := content[min(i*PageSize, len(content)):min((i+1)*PageSize, len(content))]
		n := copy(buf, page)
		for j := n; j < PageSize; j++ {
			buf[j] = 0
		}
		s.disk.WriteCluster(c, buf)
	}

	addr := start
	for _, c := range clusters {
		e := &p.l0[l0Index(addr)].entries[l1Index(addr)]
		e.location.Store(uint32(c))
		e.flags.Or(flagSwapped)
		addr += PageSize
	}
	p.segments = append(p.segments, d)
	return OK
}

// DeleteSegment removes the segment that starts exactly at start,
// invalidating its pages and releasing any frames and clusters they
// hold. Level-1 tables left without a single valid entry are freed.
func (p *Process) DeleteSegment(start VirtualAddress) Status {
	if !pageAligned(start) {
		return Trap
	}
	s := p.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, d := range p.segments {
		if d.start == start {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Trap
	}
	p.releaseEntries(p.segments[idx], true)
	p.segments = append(p.segments[:idx], p.segments[idx+1:]...)
	return OK
}

// Destroy releases the whole process: every private segment, every
// shared-segment connection, the level-0 table and the pid. The
// process must not be used afterwards.
func (p *Process) Destroy() {
	s := p.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}
	for len(p.segments) > 0 {
		d := p.segments[0]
		p.segments = p.segments[1:]
		p.releaseEntries(d, true)
	}
	for len(p.shared) > 0 {
		p.disconnectLocked(p.shared[0])
	}
	s.pmtAlloc.Dealloc(p.l0Frame)
	delete(s.procs, p.pid)
	s.freePid(p.pid)
	p.destroyed = true
	s.log.Debug("process destroyed", zap.Uint32("pid", uint32(p.pid)))
}

// initEntries marks every page of d VALID with d's permission bits,
// allocating level-1 tables from the page-map-table space as needed.
// For a shared segment the entries are wired to the descriptor's page
// state and carry the encoded ids. Table allocations roll back on
// shortfall. Caller holds the process mutex and at least the system
// read lock.
func (p *Process) initEntries(d segmentDescr, ss *sharedSegment) Status {
	s := p.sys

	first := l0Index(d.start)
	last := l0Index(d.end())
	var taken []mem.FrameNum
	for slot := first; slot <= last; slot++ {
		if p.l0[slot] != nil {
			continue
		}
		frame, ok := s.pmtAlloc.Alloc()
		if !ok {
			for _, f := range taken {
				s.pmtAlloc.Dealloc(f)
			}
			s.log.Warn("page-map-table space exhausted", zap.Uint32("pid", uint32(p.pid)))
			return Trap
		}
		taken = append(taken, frame)
	}

	ti := 0
	for slot := first; slot <= last; slot++ {
		if p.l0[slot] == nil {
			p.l0[slot] = &pmtTable1{frame: taken[ti]}
			ti++
		}
	}

	addr := d.start
	for i := PageNum(0); i < d.size; i++ {
		e := &p.l0[l0Index(addr)].entries[l1Index(addr)]
		flags := flagValid | rightsBits(d.rights)
		if ss != nil {
			flags |= sharedIDBits(ss.id, addr)
			e.shared = &ss.pages[i]
		}
		e.flags.Store(flags)
		addr += PageSize
	}
	return OK
}

// dropEntries undoes initEntries for a range whose pages hold no
// resources yet.
func (p *Process) dropEntries(d segmentDescr) {
	addr := d.start
	for i := PageNum(0); i < d.size; i++ {
		p.l0[l0Index(addr)].entries[l1Index(addr)].reset()
		addr += PageSize
	}
	p.freeEmptyTables(d)
}

// releaseEntries invalidates every page of d. Ring-resident entries
// are unlinked; for a shared page whose representative is leaving
// while other processes remain connected, another process's entry is
// promoted into the same ring position instead. With releaseResources
// the page's frame or cluster is returned to its allocator. Caller
// holds the system mutex and the process mutex.
func (p *Process) releaseEntries(d segmentDescr, releaseResources bool) {
	s := p.sys

	addr := d.start
	for i := PageNum(0); i < d.size; i++ {
		t1 := p.l0[l0Index(addr)]
		if t1 == nil {
			addr += PageSize
			continue
		}
		e := &t1.entries[l1Index(addr)]

		if e.next != nil {
			if e.shared != nil && !releaseResources {
				repl := p.replacementEntry(e.shared)
				s.replaceInRing(e, repl)
				e.shared.rep = repl
			} else {
				s.unlinkEntry(e)
			}
		} else if e.shared != nil && !releaseResources && e.shared.rep == e {
			e.shared.rep = nil
		}

		if releaseResources {
			flags := e.load()
			if flags&flagMapped != 0 {
				s.frameAlloc.Dealloc(mem.FrameNum(e.loc()))
			} else if flags&flagSwapped != 0 {
				s.clusterAlloc.Free(part.ClusterNo(e.loc()))
			}
		}
		e.reset()
		addr += PageSize
	}

	p.freeEmptyTables(d)
}

// freeEmptyTables frees every level-1 table touched by d that has no
// valid entry left. The whole table is rescanned so entries belonging
// to other segments keep it alive.
func (p *Process) freeEmptyTables(d segmentDescr) {
	s := p.sys
	for slot := l0Index(d.start); slot <= l0Index(d.end()); slot++ {
		t1 := p.l0[slot]
		if t1 == nil || t1.hasValidEntries() {
			continue
		}
		s.pmtAlloc.Dealloc(t1.frame)
		p.l0[slot] = nil
	}
}

// replacementEntry returns another connected process's entry for the
// same shared page. Caller guarantees at least one other process is
// connected.
func (p *Process) replacementEntry(sp *sharedPage) *pmtEntry1 {
	addr := sp.seg.start + VirtualAddress(sp.index)*PageSize
	for _, q := range sp.seg.procs {
		if q == p {
			continue
		}
		return &q.l0[l0Index(addr)].entries[l1Index(addr)]
	}
	return nil
}
