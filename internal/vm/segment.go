package vm

// segmentDescr records a virtual-address range a process has created,
// together with its access rights. Descriptors drive range-based
// create/delete; the per-page state lives in the page-map tables.
type segmentDescr struct {
	start  VirtualAddress
	size   PageNum
	rights AccessType
}

func (d segmentDescr) end() VirtualAddress {
	return d.start + VirtualAddress(d.size)*PageSize - 1
}

// overlaps reports whether two page ranges intersect.
func (d segmentDescr) overlaps(o segmentDescr) bool {
	return !(o.start > d.end() || d.start > o.end())
}

// validateSegment checks a candidate range: page-aligned nonzero-sized
// range fully inside the 24-bit address space, a legal rights value,
// and no overlap with the process's private segments or connected
// shared segments. Caller holds the process mutex.
func (p *Process) validateSegment(start VirtualAddress, size PageNum, rights AccessType) Status {
	if size == 0 || size > maxSegmentPages {
		return Trap
	}
	cand := segmentDescr{start: start, size: size, rights: rights}
	if !pageAligned(start) || !vaddrValid(start) || !vaddrValid(cand.end()) || cand.end() < start {
		return Trap
	}
	switch rights {
	case Read, Write, ReadWrite, Execute:
	default:
		return Trap
	}
	for _, d := range p.segments {
		if cand.overlaps(d) {
			return Trap
		}
	}
	for _, ss := range p.shared {
		if cand.overlaps(segmentDescr{start: ss.start, size: ss.size}) {
			return Trap
		}
	}
	return OK
}
