package vm

import (
	"fmt"
	"strings"
)

// DebugString renders the process's segments and populated level-1
// table slots for troubleshooting.
func (p *Process) DebugString() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Process: (%d)\n", p.pid)

	b.WriteString("  Segments:\n")
	for _, d := range p.segments {
		fmt.Fprintf(&b, "    %08x, %08x, %d\n", uint32(d.start), uint32(d.end()), d.size)
	}
	for _, ss := range p.shared {
		fmt.Fprintf(&b, "    %08x, %08x, %d (shared %q)\n",
			uint32(ss.start), uint32(segmentDescr{start: ss.start, size: ss.size}.end()), ss.size, ss.name)
	}

	b.WriteString("  PMT1s: ")
	for i, t1 := range p.l0 {
		if t1 != nil {
			fmt.Fprintf(&b, "%d ", i)
		}
	}
	b.WriteString("\n")
	return b.String()
}
