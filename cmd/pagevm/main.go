// Command pagevm drives the virtual-memory emulator from a workload
// script: it builds a System over a swap partition, executes the
// script, and can expose the inspect endpoint and watch the swap
// backing file while the workload runs.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/orizon-lang/pagevm/internal/cli"
	"github.com/orizon-lang/pagevm/internal/inspect"
	"github.com/orizon-lang/pagevm/internal/part"
	"github.com/orizon-lang/pagevm/internal/vm"
)

func main() {
	var (
		config      = flag.String("config", "", "partition config file (default: in-memory partition)")
		clusters    = flag.Uint("clusters", 1024, "clusters for the in-memory partition")
		frames      = flag.Uint("frames", 16, "process frame region size in frames")
		pmtPages    = flag.Uint("pmt", 1024, "page-map-table space size in frames")
		script      = flag.String("script", "", "workload script (default: stdin)")
		inspectAddr = flag.String("inspect", "", "serve /stats over HTTP/3 on this address")
		watch       = flag.Bool("watch", false, "warn when the swap backing file is truncated or removed externally")
		verbose     = flag.Bool("verbose", false, "debug logging")
		version     = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		cli.PrintVersion("pagevm")
		return
	}

	log := zap.NewNop()
	if *verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			cli.ExitWithError("logger: %v", err)
		}
	}
	defer log.Sync()

	var disk part.Partition
	if *config != "" {
		f, err := part.Open(*config)
		if err != nil {
			cli.ExitWithError("%v", err)
		}
		defer f.Close()
		disk = f

		if *watch {
			w, err := f.Watch()
			if err != nil {
				cli.ExitWithError("watch %s: %v", f.Path(), err)
			}
			defer w.Close()
			go func() {
				for ev := range w.Events() {
					log.Warn("swap backing file damaged",
						zap.String("path", ev.Path), zap.Stringer("kind", ev.Kind), zap.Int64("size", ev.Size))
					fmt.Fprintf(os.Stderr, "warning: swap file %s %s, emulator state is unreliable\n", ev.Path, ev.Kind)
				}
			}()
		}
	} else {
		disk = part.NewMemory(part.ClusterNo(*clusters))
	}

	region := make([]byte, int(*frames)*vm.FrameSize)
	sys, err := vm.NewSystem(region, vm.PageNum(*pmtPages), disk, vm.WithLogger(log))
	if err != nil {
		cli.ExitWithError("%v", err)
	}

	if *inspectAddr != "" {
		tlsCfg, err := inspect.SelfSignedTLS()
		if err != nil {
			cli.ExitWithError("inspect tls: %v", err)
		}
		srv := inspect.NewServer(*inspectAddr, tlsCfg, sys, log, inspect.Options{})
		if _, err := srv.Start(); err != nil {
			cli.ExitWithError("inspect endpoint: %v", err)
		}
		defer srv.Close()
		fmt.Fprintf(os.Stderr, "inspect endpoint on %s\n", srv.Addr())
	}

	in := os.Stdin
	if *script != "" {
		f, err := os.Open(*script)
		if err != nil {
			cli.ExitWithError("%v", err)
		}
		defer f.Close()
		in = f
	}

	if err := NewRunner(sys, region, os.Stdout).Run(in); err != nil {
		cli.ExitWithError("%v", err)
	}
}
