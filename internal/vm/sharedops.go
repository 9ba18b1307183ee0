package vm

import "go.uber.org/zap"

// CreateSharedSegment creates the named shared segment or connects to
// it. The first creation fixes the segment's range and rights; later
// calls must present the same start and size and then connect, sharing
// the same backing frame or cluster with every connected process.
func (p *Process) CreateSharedSegment(start VirtualAddress, size PageNum, name string, rights AccessType) Status {
	if name == "" {
		return Trap
	}
	s := p.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	ss := s.shared[name]
	if ss != nil {
		for _, q := range ss.procs {
			if q == p {
				return OK // already connected
			}
		}
	}

	if p.validateSegment(start, size, rights) != OK {
		return Trap
	}

	if ss == nil {
		id, ok := s.takeSharedID()
		if !ok {
			return Trap
		}
		cand := newSharedSegment(id, name, start, size, rights)
		for _, other := range s.shared {
			if (segmentDescr{start: start, size: size}).overlaps(segmentDescr{start: other.start, size: other.size}) {
				s.freeSharedID(id)
				return Trap
			}
		}
		if p.initEntries(segmentDescr{start: start, size: size, rights: rights}, cand) != OK {
			s.freeSharedID(id)
			return Trap
		}
		cand.procs = append(cand.procs, p)
		s.shared[name] = cand
		p.shared = append(p.shared, cand)
		s.log.Debug("shared segment created",
			zap.String("name", name), zap.Uint32("id", id), zap.Uint32("pid", uint32(p.pid)))
		return OK
	}

	if ss.start != start || ss.size != size {
		return Trap
	}
	// The registry's rights are authoritative for the entries.
	if p.initEntries(segmentDescr{start: ss.start, size: ss.size, rights: ss.rights}, ss) != OK {
		return Trap
	}
	ss.procs = append(ss.procs, p)
	p.shared = append(p.shared, ss)
	s.log.Debug("shared segment connected",
		zap.String("name", name), zap.Uint32("pid", uint32(p.pid)))
	return OK
}

// DisconnectSharedSegment removes this process's mapping of the named
// segment. If the process was the ring representative of any page,
// another connected process takes over; if it was the last connected
// process, the segment's frames and clusters are released and the
// registry entry is removed, recycling the id.
func (p *Process) DisconnectSharedSegment(name string) Status {
	if name == "" {
		return Trap
	}
	s := p.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	ss := s.shared[name]
	if ss == nil {
		return Trap
	}
	return p.disconnectLocked(ss)
}

// disconnectLocked does the disconnect work. Caller holds the system
// mutex and p's mutex.
func (p *Process) disconnectLocked(ss *sharedSegment) Status {
	s := p.sys

	idx := -1
	for i, q := range ss.procs {
		if q == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Trap
	}

	last := len(ss.procs) == 1
	p.releaseEntries(segmentDescr{start: ss.start, size: ss.size, rights: ss.rights}, last)
	ss.procs = append(ss.procs[:idx], ss.procs[idx+1:]...)
	for i, c := range p.shared {
		if c == ss {
			p.shared = append(p.shared[:i], p.shared[i+1:]...)
			break
		}
	}
	if last {
		delete(s.shared, ss.name)
		s.freeSharedID(ss.id)
		s.log.Debug("shared segment removed",
			zap.String("name", ss.name), zap.Uint32("id", ss.id))
	}
	return OK
}

// DeleteSharedSegment disconnects every connected process from the
// named segment and removes it from the registry.
func (p *Process) DeleteSharedSegment(name string) Status {
	if name == "" {
		return Trap
	}
	s := p.sys
	s.mu.Lock()
	defer s.mu.Unlock()

	ss := s.shared[name]
	if ss == nil {
		return Trap
	}
	for len(ss.procs) > 0 {
		q := ss.procs[0]
		q.mu.Lock()
		q.disconnectLocked(ss)
		q.mu.Unlock()
	}
	return OK
}
