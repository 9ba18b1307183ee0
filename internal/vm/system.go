package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/orizon-lang/pagevm/internal/mem"
	"github.com/orizon-lang/pagevm/internal/part"
)

// System owns all cross-process state of the emulator: the frame
// region and its allocator, the page-map-table space accounting, the
// swap partition and its cluster allocator, the process table, the
// shared-segment registry and the global replacement ring.
//
// Lock order: the system mutex is acquired before any process mutex;
// the allocators are leaf locks. The ring, the clock hand, the process
// table, the pid pool and the shared registry are mutated only under
// the system mutex.
type System struct {
	mu sync.RWMutex

	frames     []byte
	frameAlloc *mem.FrameAllocator
	pmtAlloc   *mem.FrameAllocator

	disk         part.Partition
	clusterAlloc *mem.ClusterAllocator

	procs    map[ProcessID]*Process
	nextPid  ProcessID
	freePids []ProcessID

	shared        map[string]*sharedSegment
	nextSharedID  uint32
	freeSharedIDs []uint32

	hand *pmtEntry1

	faults    atomic.Uint64
	evictions atomic.Uint64

	log *zap.Logger
}

// Option configures a System.
type Option func(*System)

// WithLogger attaches a logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *System) { s.log = l }
}

// NewSystem creates an emulator over the given process frame region
// (its length must be a nonzero multiple of FrameSize), a page-map
// -table space of pmtPages frames, and a swap partition. The caller
// keeps ownership of processSpace and reads or writes it directly at
// the physical addresses the engine hands out.
func NewSystem(processSpace []byte, pmtPages PageNum, disk part.Partition, opts ...Option) (*System, error) {
	if len(processSpace) == 0 || len(processSpace)%FrameSize != 0 {
		return nil, fmt.Errorf("process space must be a nonzero multiple of %d bytes, got %d", FrameSize, len(processSpace))
	}
	if pmtPages == 0 {
		return nil, fmt.Errorf("page-map-table space must not be empty")
	}

	var clusters part.ClusterNo
	if disk != nil {
		clusters = disk.NumClusters()
	}

	s := &System{
		frames:       processSpace,
		frameAlloc:   mem.NewFrameAllocator(uint32(len(processSpace) / FrameSize)),
		pmtAlloc:     mem.NewFrameAllocator(uint32(pmtPages)),
		disk:         disk,
		clusterAlloc: mem.NewClusterAllocator(clusters),
		procs:        make(map[ProcessID]*Process),
		shared:       make(map[string]*sharedSegment),
		nextSharedID: 1, // id 0 is reserved for "not shared"
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Info("system created",
		zap.Int("frames", len(processSpace)/FrameSize),
		zap.Uint32("pmt_pages", uint32(pmtPages)),
		zap.Uint32("clusters", uint32(clusters)))
	return s, nil
}

// takePid allocates a pid from the freed stack or the bump counter.
// Caller holds the system mutex.
func (s *System) takePid() (ProcessID, bool) {
	if n := len(s.freePids); n > 0 {
		pid := s.freePids[n-1]
		s.freePids = s.freePids[:n-1]
		return pid, true
	}
	if s.nextPid == NoProcess {
		return NoProcess, false
	}
	pid := s.nextPid
	s.nextPid++
	return pid, true
}

func (s *System) freePid(pid ProcessID) {
	s.freePids = append(s.freePids, pid)
}

// CreateProcess creates a process with an empty address space.
func (s *System) CreateProcess() (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid, ok := s.takePid()
	if !ok {
		return nil, fmt.Errorf("no pid available")
	}
	frame, ok := s.pmtAlloc.Alloc()
	if !ok {
		s.freePid(pid)
		s.log.Warn("page-map-table space exhausted", zap.Uint32("pid", uint32(pid)))
		return nil, fmt.Errorf("page-map-table space exhausted")
	}

	p := &Process{pid: pid, sys: s, l0: new(l0Table), l0Frame: frame}
	s.procs[pid] = p
	s.log.Debug("process created", zap.Uint32("pid", uint32(pid)))
	return p, nil
}

// Access is the hardware entry point: it translates one access request
// for a process. It returns Trap for an invalid address, unknown pid,
// unmapped range or insufficient rights, PageFault when a valid page
// is not resident (mutating nothing in that case), and OK otherwise,
// setting the dirty bit on writes.
func (s *System) Access(pid ProcessID, v VirtualAddress, t AccessType) Status {
	if !vaddrValid(v) {
		return Trap
	}
	s.mu.RLock()
	p := s.procs[pid]
	s.mu.RUnlock()
	if p == nil {
		return Trap
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t1 := p.l0[l0Index(v)]
	if t1 == nil {
		return Trap
	}
	e := &t1.entries[l1Index(v)]
	flags := e.load()
	if flags&flagValid == 0 {
		return Trap
	}
	need, ok := neededBits(t)
	if !ok || flags&need != need {
		return Trap
	}
	if flags&flagMapped == 0 {
		return PageFault
	}
	if t == Write || t == ReadWrite {
		e.setStatus(flagDirty)
	}
	return OK
}

// PeriodicJob exists for the hardware driver's timer hook; this engine
// does no periodic work.
func (s *System) PeriodicJob() uint32 { return 0 }

// frameBytes returns the byte window of one frame.
func (s *System) frameBytes(frame uint32) []byte {
	return s.frames[int(frame)*FrameSize : (int(frame)+1)*FrameSize]
}

// Stats is a point-in-time snapshot of system state, served by the
// inspect endpoint.
type Stats struct {
	Processes      int    `json:"processes"`
	TotalFrames    uint32 `json:"total_frames"`
	FreeFrames     uint32 `json:"free_frames"`
	TotalPmtFrames uint32 `json:"total_pmt_frames"`
	FreePmtFrames  uint32 `json:"free_pmt_frames"`
	TotalClusters  uint32 `json:"total_clusters"`
	FreeClusters   uint32 `json:"free_clusters"`
	SharedSegments int    `json:"shared_segments"`
	RingLen        int    `json:"ring_len"`
	Faults         uint64 `json:"faults"`
	Evictions      uint64 `json:"evictions"`
}

// Stats returns a snapshot of the system counters.
func (s *System) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Processes:      len(s.procs),
		TotalFrames:    s.frameAlloc.Size(),
		FreeFrames:     s.frameAlloc.FreeCount(),
		TotalPmtFrames: s.pmtAlloc.Size(),
		FreePmtFrames:  s.pmtAlloc.FreeCount(),
		TotalClusters:  uint32(s.clusterAlloc.Size()),
		FreeClusters:   uint32(s.clusterAlloc.FreeCount()),
		SharedSegments: len(s.shared),
		RingLen:        s.ringLen(),
		Faults:         s.faults.Load(),
		Evictions:      s.evictions.Load(),
	}
}
