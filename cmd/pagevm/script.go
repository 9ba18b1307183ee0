package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/pagevm/internal/cli"
	"github.com/orizon-lang/pagevm/internal/vm"
)

// Runner executes a workload script against a System. Scripts are
// line-oriented; # starts a comment. Commands:
//
//	requires <constraint>            gate on the tool version
//	process <name>                   create a process
//	clone <name> <newname>           clone a process
//	destroy <name>                   destroy a process
//	segment <name> <addr> <pages> <rights>
//	load <name> <addr> <pages> <rights> <text>
//	delete <name> <addr>
//	shared <name> <segname> <addr> <pages> <rights>
//	disconnect <name> <segname>
//	write <name> <addr> <byte>       access+fault+write one byte
//	read <name> <addr>               access+fault+read one byte
//	stress <procs> <pages>           concurrent per-process workloads
//	stats                            print system counters
type Runner struct {
	sys    *vm.System
	region []byte
	procs  map[string]*vm.Process
	out    io.Writer
}

// NewRunner creates a script runner over sys and its frame region.
func NewRunner(sys *vm.System, region []byte, out io.Writer) *Runner {
	return &Runner{sys: sys, region: region, procs: make(map[string]*vm.Process), out: out}
}

// Run executes the script from r, stopping at the first failing line.
func (rn *Runner) Run(r io.Reader) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := rn.exec(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

func (rn *Runner) exec(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "requires":
		return rn.requires(args)
	case "process":
		return rn.process(args)
	case "clone":
		return rn.clone(args)
	case "destroy":
		return rn.destroy(args)
	case "segment":
		return rn.segment(args)
	case "load":
		return rn.load(args)
	case "delete":
		return rn.deleteSeg(args)
	case "shared":
		return rn.shared(args)
	case "disconnect":
		return rn.disconnect(args)
	case "write":
		return rn.write(args)
	case "read":
		return rn.read(args)
	case "stress":
		return rn.stress(args)
	case "stats":
		st := rn.sys.Stats()
		fmt.Fprintf(rn.out, "procs=%d frames=%d/%d clusters=%d/%d ring=%d faults=%d evictions=%d\n",
			st.Processes, st.FreeFrames, st.TotalFrames, st.FreeClusters, st.TotalClusters,
			st.RingLen, st.Faults, st.Evictions)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (rn *Runner) requires(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires: missing constraint")
	}
	c, err := semver.NewConstraint(strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("requires: %w", err)
	}
	v, err := semver.NewVersion(cli.Version)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("script requires pagevm %s, this is %s", c, cli.Version)
	}
	return nil
}

func (rn *Runner) lookup(name string) (*vm.Process, error) {
	p := rn.procs[name]
	if p == nil {
		return nil, fmt.Errorf("unknown process %q", name)
	}
	return p, nil
}

func parseAddr(s string) (vm.VirtualAddress, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	return vm.VirtualAddress(n), err
}

func parseRights(s string) (vm.AccessType, error) {
	switch s {
	case "r":
		return vm.Read, nil
	case "w":
		return vm.Write, nil
	case "rw":
		return vm.ReadWrite, nil
	case "x":
		return vm.Execute, nil
	}
	return 0, fmt.Errorf("bad rights %q", s)
}

func (rn *Runner) process(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("process: want <name>")
	}
	p, err := rn.sys.CreateProcess()
	if err != nil {
		return err
	}
	rn.procs[args[0]] = p
	return nil
}

func (rn *Runner) clone(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("clone: want <name> <newname>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	c, err := p.Clone()
	if err != nil {
		return err
	}
	rn.procs[args[1]] = c
	return nil
}

func (rn *Runner) destroy(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("destroy: want <name>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	p.Destroy()
	delete(rn.procs, args[0])
	return nil
}

func (rn *Runner) segment(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("segment: want <name> <addr> <pages> <rights>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	pages, err := strconv.ParseUint(args[2], 0, 32)
	if err != nil {
		return err
	}
	rights, err := parseRights(args[3])
	if err != nil {
		return err
	}
	if st := p.CreateSegment(addr, vm.PageNum(pages), rights); st != vm.OK {
		return fmt.Errorf("segment: %v", st)
	}
	return nil
}

func (rn *Runner) load(args []string) error {
	if len(args) < 5 {
		return fmt.Errorf("load: want <name> <addr> <pages> <rights> <text>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	pages, err := strconv.ParseUint(args[2], 0, 32)
	if err != nil {
		return err
	}
	rights, err := parseRights(args[3])
	if err != nil {
		return err
	}
	content := []byte(strings.Join(args[4:], " "))
	if st := p.LoadSegment(addr, vm.PageNum(pages), rights, content); st != vm.OK {
		return fmt.Errorf("load: %v", st)
	}
	return nil
}

func (rn *Runner) deleteSeg(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("delete: want <name> <addr>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	if st := p.DeleteSegment(addr); st != vm.OK {
		return fmt.Errorf("delete: %v", st)
	}
	return nil
}

func (rn *Runner) shared(args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("shared: want <name> <segname> <addr> <pages> <rights>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[2])
	if err != nil {
		return err
	}
	pages, err := strconv.ParseUint(args[3], 0, 32)
	if err != nil {
		return err
	}
	rights, err := parseRights(args[4])
	if err != nil {
		return err
	}
	if st := p.CreateSharedSegment(addr, vm.PageNum(pages), args[1], rights); st != vm.OK {
		return fmt.Errorf("shared: %v", st)
	}
	return nil
}

func (rn *Runner) disconnect(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("disconnect: want <name> <segname>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	if st := p.DisconnectSharedSegment(args[1]); st != vm.OK {
		return fmt.Errorf("disconnect: %v", st)
	}
	return nil
}

// touch runs the access/fault/translate sequence for one address.
func (rn *Runner) touch(p *vm.Process, addr vm.VirtualAddress, t vm.AccessType) (vm.PhysicalAddress, error) {
	st := rn.sys.Access(p.Pid(), addr, t)
	if st == vm.PageFault {
		if st = p.PageFault(addr); st != vm.OK {
			return 0, fmt.Errorf("page fault at %#x: %v", addr, st)
		}
		st = rn.sys.Access(p.Pid(), addr, t)
	}
	if st != vm.OK {
		return 0, fmt.Errorf("access %v at %#x: %v", t, addr, st)
	}
	pa, st := p.GetPhysicalAddress(addr)
	if st != vm.OK {
		return 0, fmt.Errorf("translate %#x: %v", addr, st)
	}
	return pa, nil
}

func (rn *Runner) write(args []string) error {
	if len(args) != 3 || len(args[2]) != 1 {
		return fmt.Errorf("write: want <name> <addr> <byte>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	pa, err := rn.touch(p, addr, vm.Write)
	if err != nil {
		return err
	}
	rn.region[pa] = args[2][0]
	return nil
}

func (rn *Runner) read(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("read: want <name> <addr>")
	}
	p, err := rn.lookup(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	pa, err := rn.touch(p, addr, vm.Read)
	if err != nil {
		return err
	}
	fmt.Fprintf(rn.out, "%#x: %c\n", uint32(addr), rn.region[pa])
	return nil
}

// stress spawns procs processes concurrently; each creates a private
// segment, writes a marker to every page and reads it back through
// the fault path.
func (rn *Runner) stress(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("stress: want <procs> <pages>")
	}
	procs, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	pages, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}

	var g errgroup.Group
	for i := 0; i < procs; i++ {
		base := vm.VirtualAddress(i * pages * vm.PageSize)
		g.Go(func() error {
			p, err := rn.sys.CreateProcess()
			if err != nil {
				return err
			}
			if st := p.CreateSegment(base, vm.PageNum(pages), vm.ReadWrite); st != vm.OK {
				return fmt.Errorf("pid %d: create segment: %v", p.Pid(), st)
			}
			marker := byte('a' + p.Pid()%26)
			for j := 0; j < pages; j++ {
				addr := base + vm.VirtualAddress(j*vm.PageSize)
				pa, err := rn.touch(p, addr, vm.Write)
				if err != nil {
					return fmt.Errorf("pid %d: %w", p.Pid(), err)
				}
				rn.region[pa] = marker
			}
			for j := 0; j < pages; j++ {
				addr := base + vm.VirtualAddress(j*vm.PageSize)
				pa, err := rn.touch(p, addr, vm.Read)
				if err != nil {
					return fmt.Errorf("pid %d: %w", p.Pid(), err)
				}
				if rn.region[pa] != marker {
					return fmt.Errorf("pid %d: page %d: got %q want %q", p.Pid(), j, rn.region[pa], marker)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
