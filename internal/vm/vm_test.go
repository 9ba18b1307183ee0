package vm

import (
	"testing"

	"github.com/orizon-lang/pagevm/internal/part"
)

// newTestSystem builds a system over a fresh in-memory partition and
// returns it with its frame region.
func newTestSystem(t *testing.T, frames, pmtPages, clusters int) (*System, []byte) {
	t.Helper()
	region := make([]byte, frames*FrameSize)
	s, err := NewSystem(region, PageNum(pmtPages), part.NewMemory(part.ClusterNo(clusters)))
	if err != nil {
		t.Fatal(err)
	}
	return s, region
}

// touch runs the full access sequence for one address: translate,
// service the fault if reported, translate again, and resolve the
// physical address.
func touch(t *testing.T, s *System, p *Process, v VirtualAddress, at AccessType) PhysicalAddress {
	t.Helper()
	st := s.Access(p.Pid(), v, at)
	if st == PageFault {
		if st = p.PageFault(v); st != OK {
			t.Fatalf("page fault at %#x: %v", v, st)
		}
		st = s.Access(p.Pid(), v, at)
	}
	if st != OK {
		t.Fatalf("access %v at %#x: %v", at, v, st)
	}
	pa, st := p.GetPhysicalAddress(v)
	if st != OK {
		t.Fatalf("translate %#x: %v", v, st)
	}
	return pa
}

// cString reads a NUL-terminated string from the frame region.
func cString(region []byte, pa PhysicalAddress) string {
	end := pa
	for region[end] != 0 {
		end++
	}
	return string(region[pa:end])
}

func mustCreateProcess(t *testing.T, s *System) *Process {
	t.Helper()
	p, err := s.CreateProcess()
	if err != nil {
		t.Fatal(err)
	}
	return p
}
