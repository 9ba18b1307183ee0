package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/orizon-lang/pagevm/internal/mem"
	"github.com/orizon-lang/pagevm/internal/part"
)

// CloneProcess duplicates the address space of the process with the
// given pid. Private pages get independent swap copies: whatever their
// residency state in the source, the clone's copies are swap-resident,
// unmapped and clean, written to freshly reserved clusters. Shared
// pages stay shared: the clone joins each shared segment's connected
// processes. Every reservation rolls back on failure.
func (s *System) CloneProcess(pid ProcessID) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.procs[pid]
	if src == nil {
		return nil, fmt.Errorf("no process with pid %d", pid)
	}
	return s.cloneLocked(src)
}

// Clone duplicates this process's address space; see CloneProcess.
func (p *Process) Clone() (*Process, error) {
	s := p.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked(p)
}

func (s *System) cloneLocked(src *Process) (*Process, error) {
	src.mu.Lock()
	defer src.mu.Unlock()

	pid, ok := s.takePid()
	if !ok {
		return nil, fmt.Errorf("no pid available")
	}
	l0Frame, ok := s.pmtAlloc.Alloc()
	if !ok {
		s.freePid(pid)
		return nil, fmt.Errorf("page-map-table space exhausted")
	}

	// Count what the copy needs: one page-map-table frame per present
	// level-1 table, one cluster per private page with contents.
	tables := 0
	clusters := 0
	for _, t1 := range src.l0 {
		if t1 == nil {
			continue
		}
		tables++
		for j := range t1.entries {
			e := &t1.entries[j]
			flags := e.flags.Load()
			if flags&flagValid == 0 || e.shared != nil {
				continue
			}
			if e.load()&(flagMapped|flagSwapped) != 0 {
				clusters++
			}
		}
	}

	rollback := func(clustersTaken []part.ClusterNo, framesTaken []mem.FrameNum) {
		for _, c := range clustersTaken {
			s.clusterAlloc.Free(c)
		}
		for _, f := range framesTaken {
			s.pmtAlloc.Dealloc(f)
		}
		s.pmtAlloc.Dealloc(l0Frame)
		s.freePid(pid)
	}

	clustersTaken := make([]part.ClusterNo, 0, clusters)
	for i := 0; i < clusters; i++ {
		c, ok := s.clusterAlloc.Take()
		if !ok {
			rollback(clustersTaken, nil)
			s.log.Warn("clone failed: swap space exhausted", zap.Uint32("src", uint32(src.pid)))
			return nil, fmt.Errorf("swap space exhausted")
		}
		clustersTaken = append(clustersTaken, c)
	}
	framesTaken := make([]mem.FrameNum, 0, tables)
	for i := 0; i < tables; i++ {
		f, ok := s.pmtAlloc.Alloc()
		if !ok {
			rollback(clustersTaken, framesTaken)
			s.log.Warn("clone failed: page-map-table space exhausted", zap.Uint32("src", uint32(src.pid)))
			return nil, fmt.Errorf("page-map-table space exhausted")
		}
		framesTaken = append(framesTaken, f)
	}

	dst := &Process{pid: pid, sys: s, l0: new(l0Table), l0Frame: l0Frame}
	buf := make([]byte, PageSize)
	ti := 0
	ci := 0
	for i, t1 := range src.l0 {
		if t1 == nil {
			continue
		}
		nt := &pmtTable1{frame: framesTaken[ti]}
		ti++
		dst.l0[i] = nt

		for j := range t1.entries {
			se := &t1.entries[j]
			flags := se.flags.Load()
			if flags&flagValid == 0 {
				continue
			}
			de := &nt.entries[j]

			if se.shared != nil {
				// Shared page: same descriptor, same backing.
				de.flags.Store(flags)
				de.shared = se.shared
				continue
			}

			if flags&(flagMapped|flagSwapped) != 0 {
				nf := flags&^(flagMapped|flagDirty|flagReference) | flagSwapped
				de.flags.Store(nf)

				if flags&flagMapped != 0 {
					copy(buf, s.frameBytes(se.location.Load()))
				} else {
					s.disk.ReadCluster(part.ClusterNo(se.location.Load()), buf)
				}
				c := clustersTaken[ci]
				ci++
				s.disk.WriteCluster(c, buf)
				de.location.Store(uint32(c))
				continue
			}

			// Valid but never touched: just the permission bits.
			de.flags.Store(flags)
		}
	}

	dst.segments = append([]segmentDescr(nil), src.segments...)
	for _, ss := range src.shared {
		ss.procs = append(ss.procs, dst)
		dst.shared = append(dst.shared, ss)
	}

	s.procs[pid] = dst
	s.log.Debug("process cloned",
		zap.Uint32("src", uint32(src.pid)), zap.Uint32("dst", uint32(pid)))
	return dst, nil
}
