package vm

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestManyProcessesFewFrames(t *testing.T) {
	// 200 one-page address spaces churning through 10 frames: every
	// read-back goes through clock eviction and a swap round trip.
	const procs = 200
	s, region := newTestSystem(t, 10, 4000, 1000)

	ps := make([]*Process, procs)
	for i := range ps {
		ps[i] = mustCreateProcess(t, s)
		base := VirtualAddress(i * PageSize)
		if st := ps[i].CreateSegment(base, 1, ReadWrite); st != OK {
			t.Fatalf("process %d: create segment: %v", i, st)
		}
	}

	for i, p := range ps {
		base := VirtualAddress(i * PageSize)
		pa := touch(t, s, p, base, Write)
		id := fmt.Sprintf("%d", p.Pid())
		copy(region[pa:], id)
		region[int(pa)+len(id)] = 0
	}

	for i, p := range ps {
		base := VirtualAddress(i * PageSize)
		pa := touch(t, s, p, base, Read)
		if got, want := cString(region, pa), fmt.Sprintf("%d", p.Pid()); got != want {
			t.Fatalf("process %d reads %q, want %q", i, got, want)
		}
	}

	st := s.Stats()
	if st.Evictions == 0 {
		t.Fatal("no evictions with 200 processes on 10 frames")
	}
	if st.RingLen > 10 {
		t.Fatalf("ring holds %d entries, more than there are frames", st.RingLen)
	}
}

func TestConcurrentProcesses(t *testing.T) {
	// Enough frames that no eviction happens: each worker owns its
	// frames, so the region writes cannot collide.
	const procs = 32
	const pages = 2
	s, region := newTestSystem(t, procs*pages, 4000, 100)

	var g errgroup.Group
	for i := 0; i < procs; i++ {
		base := VirtualAddress(i * pages * PageSize)
		g.Go(func() error {
			p, err := s.CreateProcess()
			if err != nil {
				return err
			}
			if st := p.CreateSegment(base, pages, ReadWrite); st != OK {
				return fmt.Errorf("pid %d: create segment: %v", p.Pid(), st)
			}
			marker := byte('a' + p.Pid()%26)
			for j := 0; j < pages; j++ {
				addr := base + VirtualAddress(j*PageSize)
				st := s.Access(p.Pid(), addr, Write)
				if st == PageFault {
					if st = p.PageFault(addr); st != OK {
						return fmt.Errorf("pid %d: fault: %v", p.Pid(), st)
					}
					st = s.Access(p.Pid(), addr, Write)
				}
				if st != OK {
					return fmt.Errorf("pid %d: access: %v", p.Pid(), st)
				}
				pa, st := p.GetPhysicalAddress(addr)
				if st != OK {
					return fmt.Errorf("pid %d: translate: %v", p.Pid(), st)
				}
				region[pa] = marker
			}
			for j := 0; j < pages; j++ {
				addr := base + VirtualAddress(j*PageSize)
				pa, st := p.GetPhysicalAddress(addr)
				if st != OK {
					return fmt.Errorf("pid %d: translate: %v", p.Pid(), st)
				}
				if region[pa] != marker {
					return fmt.Errorf("pid %d: page %d corrupted", p.Pid(), j)
				}
			}
			p.Destroy()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if st := s.Stats(); st.Processes != 0 || st.FreeFrames != uint32(procs*pages) {
		t.Fatalf("leaked state after concurrent workers: %+v", st)
	}
}
