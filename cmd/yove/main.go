// Command yove runs a single RV32IMAC ELF binary under the emulator in
// internal/emu and internal/machine, bridging its syscalls to the host
// services in internal/services.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/betrusted-io/yove/internal/machine"
	"github.com/betrusted-io/yove/internal/services"
)

func run() error {
	configPath := flag.String("config", "", "optional YAML config file (memory size, DNS upstream)")
	memoryBytes := flag.Uint("memory", 0, "physical memory pool size in bytes (0: use config or default)")
	dnsUpstream := flag.String("dns", "", "DNS upstream host:port (empty: use config or built-in default)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `yove - run a RV32IMAC ELF binary in a user-mode emulator

USAGE:
  yove [flags] <program.elf> [-- guest-args...]

FLAGS:
  -config FILE   Optional YAML config file (memory_bytes, dns_upstream, args)
  -memory BYTES  Physical memory pool size (overrides config)
  -dns HOST:PORT DNS resolver upstream (overrides config)

Everything after "--" is forwarded to the guest as argv; without "--",
the ELF path and every argument following it are forwarded instead.
`)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := &machine.Config{}
	if *configPath != "" {
		loaded, err := machine.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *memoryBytes != 0 {
		cfg.MemoryBytes = uint32(*memoryBytes)
	}
	if *dnsUpstream != "" {
		cfg.DNSUpstream = *dnsUpstream
	}

	programPath := flag.Arg(0)
	program, err := os.ReadFile(programPath)
	if err != nil {
		return fmt.Errorf("read program %s: %w", programPath, err)
	}

	argv := machine.SplitArgv(flag.Args())
	if cfg.Args != nil {
		argv = cfg.Args
	}

	conns := services.NewTable()
	name := services.NewName(conns, cfg.DNSUpstream)

	m := machine.NewMachine(cfg.MemoryBytes, conns)
	bridge := machine.NewBridge(m, name)

	loaded, err := machine.LoadProgram(m, bridge, program, argv)
	if err != nil {
		return fmt.Errorf("load program: %w", err)
	}

	tid := m.Spawn(loaded.Hart)
	exitCode, _ := m.JoinThread(tid)
	os.Exit(int(int32(exitCode)))
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "yove: %v\n", err)
		os.Exit(1)
	}
}
