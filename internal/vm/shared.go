package vm

import "sync/atomic"

// sharedPage holds the authoritative residency state of one page of a
// shared segment: the status bits and the frame/cluster location that
// every connected process must agree on. Per-process level-1 entries
// for the page delegate to it, so the agreement holds by construction.
// rep is the single entry that represents the page in the replacement
// ring; it is read and written only under the system mutex.
type sharedPage struct {
	flags    atomic.Uint32
	location atomic.Uint32
	rep      *pmtEntry1
	seg      *sharedSegment
	index    int
}

// sharedSegment is a named segment whose backing frame or cluster is
// shared by all connected processes. The registry in System maps names
// to descriptors; ids come from a bounded pool and id zero is reserved
// for "not shared".
type sharedSegment struct {
	id     uint32
	name   string
	start  VirtualAddress
	size   PageNum
	rights AccessType
	procs  []*Process
	pages  []sharedPage
}

func newSharedSegment(id uint32, name string, start VirtualAddress, size PageNum, rights AccessType) *sharedSegment {
	ss := &sharedSegment{
		id:     id,
		name:   name,
		start:  start,
		size:   size,
		rights: rights,
		pages:  make([]sharedPage, size),
	}
	for i := range ss.pages {
		ss.pages[i].seg = ss
		ss.pages[i].index = i
	}
	return ss
}

// takeSharedID allocates a shared segment id from the freed stack or
// the bump counter. Caller holds the system mutex.
func (s *System) takeSharedID() (uint32, bool) {
	if n := len(s.freeSharedIDs); n > 0 {
		id := s.freeSharedIDs[n-1]
		s.freeSharedIDs = s.freeSharedIDs[:n-1]
		return id, true
	}
	if s.nextSharedID < SharedSegmentIDLimit {
		id := s.nextSharedID
		s.nextSharedID++
		return id, true
	}
	return 0, false
}

func (s *System) freeSharedID(id uint32) {
	s.freeSharedIDs = append(s.freeSharedIDs, id)
}
