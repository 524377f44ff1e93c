// Package services implements the fixed set of host-side service
// endpoints a guest process can Connect to: ticktimer, log, name, a panic
// sink, and DNS resolution. Grounded on
// original_source/src/xous/services.rs's Service trait and its
// ScalarResult/LendResult enums.
package services

import (
	"sync"
	"sync/atomic"

	"github.com/betrusted-io/yove/internal/emu"
)

// ScalarResult is what BlockingScalar returns: either an immediate reply
// (one, two, or five scalar words) or a pending one that resolves later
// on Pause.
type ScalarResult struct {
	Kind   ScalarKind
	Values [5]uint32
	Pause  <-chan emu.PauseResult
}

type ScalarKind int

const (
	ScalarOne ScalarKind = iota
	ScalarTwo
	ScalarFive
	ScalarAsync
)

// LendResult is what Lend/LendMutable return: a synchronous two-word
// result (written back into the outer SyscallResultNumber.MemoryReturned
// reply) or a pending one.
type LendResult struct {
	Async   bool
	Result0 uint32
	Result1 uint32
	Pause   <-chan emu.PauseResult
}

func syncLend(r0, r1 uint32) LendResult { return LendResult{Result0: r0, Result1: r1} }

// Service is one host-side endpoint a connection id is bound to. The
// default behavior for unimplemented message shapes is to panic, matching
// the teacher's and the original's "this service never receives this
// message kind" assumption baked into a from-scratch protocol.
//
// sender is the connection id of the calling hart's process; this
// emulator runs a single guest process, so it is always the same value,
// but the parameter is kept for wire-format fidelity and future
// multi-process support.
type Service interface {
	Scalar(sender, opcode uint32, args [4]uint32)
	BlockingScalar(sender, opcode uint32, args [4]uint32) ScalarResult
	Lend(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult
	LendMutable(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult
	Send(sender, opcode uint32, buf []byte, extra [2]uint32)
}

// Unimplemented embeds into a Service implementation so a service only
// has to define the message shapes it actually receives (mirrors the
// teacher's practice of small, focused interfaces with panicking
// defaults, and the original's identical default-panics-on-Service).
type Unimplemented struct{ Name string }

func (u Unimplemented) Scalar(sender, opcode uint32, args [4]uint32) {
	panic("services: unhandled scalar to " + u.Name)
}
func (u Unimplemented) BlockingScalar(sender, opcode uint32, args [4]uint32) ScalarResult {
	panic("services: unhandled blocking_scalar to " + u.Name)
}
func (u Unimplemented) Lend(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	panic("services: unhandled lend to " + u.Name)
}
func (u Unimplemented) LendMutable(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	panic("services: unhandled lend_mut to " + u.Name)
}
func (u Unimplemented) Send(sender, opcode uint32, buf []byte, extra [2]uint32) {
	panic("services: unhandled send to " + u.Name)
}

// Registry is the capability the name service needs to dynamically spawn
// and register the four services it knows by name (ticktimer-server,
// xous-log-server , panic-to-screen!, _DNS Resolver Middleware_), without
// giving the name service access to the rest of the connection table.
type Registry interface {
	Register(svc Service) uint32
}

// Table is the shared connection table: 32-bit connection ids to
// services, allocated by atomic counter starting at 1 (spec.md §3).
// Grounded on original_source/src/xous.rs's
// `connections: Mutex<HashMap<u32, Box<dyn Service>>>` plus
// `connection_index: AtomicU32`.
type Table struct {
	nextCID atomic.Uint32

	mu    sync.Mutex
	conns map[uint32]Service
}

func NewTable() *Table {
	t := &Table{conns: make(map[uint32]Service)}
	t.nextCID.Store(1)
	return t
}

// Register installs svc under a freshly allocated connection id.
func (t *Table) Register(svc Service) uint32 {
	cid := t.nextCID.Add(1) - 1
	t.mu.Lock()
	t.conns[cid] = svc
	t.mu.Unlock()
	return cid
}

// RegisterAt installs svc under an explicit connection id and moves the
// counter past it, so later Register calls never reuse that id.
func (t *Table) RegisterAt(cid uint32, svc Service) {
	t.mu.Lock()
	t.conns[cid] = svc
	t.mu.Unlock()
	if cid >= t.nextCID.Load() {
		t.nextCID.Store(cid + 1)
	}
}

// Take detaches the service from the table for the duration of a call,
// so a service's handler can itself call back into the bridge (e.g. the
// name service registering a newly spawned service) without deadlocking
// on the table's own mutex (spec.md §5: "lookups detach the service from
// the table for the duration of a call").
func (t *Table) Take(cid uint32) (Service, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	svc, ok := t.conns[cid]
	if ok {
		delete(t.conns, cid)
	}
	return svc, ok
}

// Put reinserts a service taken out by Take.
func (t *Table) Put(cid uint32, svc Service) {
	t.mu.Lock()
	t.conns[cid] = svc
	t.mu.Unlock()
}
