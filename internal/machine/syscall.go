package machine

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/betrusted-io/yove/internal/emu"
	"github.com/betrusted-io/yove/internal/services"
)

// Syscall numbers, authoritative per spec.md §4.7.
const (
	sysMapMemory         = 2
	sysYield             = 3
	sysIncreaseHeap      = 10
	sysUpdateMemoryFlags = 12
	sysReceiveMessage    = 15
	sysSendMessage       = 16
	sysConnect           = 17
	sysCreateThread      = 18
	sysUnmapMemory       = 19
	sysTerminateProcess  = 22
	sysTrySendMessage    = 24
	sysTryConnect        = 25
	sysGetProcessId      = 33
	sysJoinThread        = 36
)

// SyscallResultNumber tags, grounded on
// original_source/src/xous/definitions.rs, with ProcessId placed in the
// enum's existing gap at 11 (SPEC_FULL.md §5).
const (
	resOk             = 0
	resError          = 1
	resMemoryRange    = 3
	resConnectionId   = 7
	resThreadId       = 10
	resProcessId      = 11
	resScalar1        = 14
	resScalar2        = 15
	resMemoryReturned = 18
	resScalar5        = 20
)

// SyscallErrorNumber codes actually used by this bridge.
const (
	errBadAddress     = 2
	errOutOfMemory    = 3
	errServerNotFound = 9
	errThreadNotAvail = 16
)

const fixedProcessID = 2

// Bridge implements emu.SyscallBridge, dispatching ECALL to a Machine's
// virtual-region planner, thread registry, and service connection table.
// Grounded on original_source/src/xous.rs's Memory::syscall match and
// original_source/src/xous/syscalls.rs.
type Bridge struct {
	m    *Machine
	name *services.Name
}

func NewBridge(m *Machine, name *services.Name) *Bridge {
	return &Bridge{m: m, name: name}
}

// HandleECALL reads the syscall number from a0 and its arguments from
// a1..a7, dispatches, and either writes the result tuple directly into
// a0..a7 (synchronous) or returns a Pause outcome (asynchronous).
func (b *Bridge) HandleECALL(h *emu.Hart) emu.SyscallOutcome {
	num := h.ReadX(10)
	var args [7]uint32
	for i := range args {
		args[i] = h.ReadX(uint32(11 + i))
	}

	switch num {
	case sysMapMemory:
		return b.mapMemory(h, args[0], args[1], args[2], args[3])
	case sysYield:
		writeOk(h)
	case sysIncreaseHeap:
		return b.increaseHeap(h, args[0])
	case sysUpdateMemoryFlags:
		b.m.updateMemoryFlags(args[0], args[1], args[2])
		writeOk(h)
	case sysReceiveMessage:
		// No guest in this emulator's scope ever delegates a receive to
		// the bridge directly; services answer inline instead (spec.md
		// §4.7: "delegated to service if implemented").
		writeOk(h)
	case sysSendMessage, sysTrySendMessage:
		return b.sendMessage(h, args[0], args[1], args[2], [4]uint32{args[3], args[4], args[5], args[6]})
	case sysConnect, sysTryConnect:
		return b.connect(h, [4]uint32{args[0], args[1], args[2], args[3]})
	case sysCreateThread:
		tid := b.m.CreateThread(b, args[0], args[1], args[2], args[3], args[4], args[5], args[6])
		writeResult(h, resThreadId, uint32(tid), 0)
	case sysUnmapMemory:
		return b.unmapMemory(h, args[0], args[1])
	case sysTerminateProcess:
		// Unlike ExitThread (one hart), TerminateProcess ends the whole
		// host process immediately (spec.md §4.7).
		os.Exit(int(int32(args[0])))
	case sysGetProcessId:
		writeResult(h, resProcessId, fixedProcessID, 0)
	case sysJoinThread:
		return b.joinThread(h, args[0])
	default:
		fmt.Fprintf(os.Stderr, "yove: unhandled syscall #%d\n", num)
		writeResult(h, 12 /* Unimplemented */, 0, 0)
	}
	return emu.SyscallOutcome{}
}

func writeOk(h *emu.Hart) { writeResult(h, resOk, 0, 0) }

func writeResult(h *emu.Hart, tag, w1, w2 uint32) {
	h.WriteX(10, tag)
	h.WriteX(11, w1)
	h.WriteX(12, w2)
	h.WriteX(13, 0)
	h.WriteX(14, 0)
	h.WriteX(15, 0)
	h.WriteX(16, 0)
	h.WriteX(17, 0)
}

func writeError(h *emu.Hart, code uint32) { writeResult(h, resError, code, 0) }

func (b *Bridge) mapMemory(h *emu.Hart, phys, virt, size, _flags uint32) emu.SyscallOutcome {
	if phys != 0 || virt != 0 {
		// The original panics (unimplemented!) on a non-zero phys/virt
		// request; no guest in this emulator's scope issues one.
		panic("machine: MapMemory with non-zero phys/virt is unimplemented")
	}
	region, ok := b.m.allocateVirtRegion(size)
	if !ok {
		writeError(h, errOutOfMemory)
		return emu.SyscallOutcome{}
	}
	writeResult(h, resMemoryRange, region, size)
	return emu.SyscallOutcome{}
}

func (b *Bridge) increaseHeap(h *emu.Hart, delta uint32) emu.SyscallOutcome {
	base, size, ok := b.m.increaseHeap(delta)
	if !ok {
		writeError(h, errOutOfMemory)
		return emu.SyscallOutcome{}
	}
	writeResult(h, resMemoryRange, base, size)
	return emu.SyscallOutcome{}
}

func (b *Bridge) unmapMemory(h *emu.Hart, va, size uint32) emu.SyscallOutcome {
	for page := va; page < va+size; page += emu.PageSize {
		if err := b.m.freeVirtPage(page, h.MMU().InvalidateVA); err != nil {
			panic(err)
		}
	}
	writeOk(h)
	return emu.SyscallOutcome{}
}

func (b *Bridge) joinThread(h *emu.Hart, tid uint32) emu.SyscallOutcome {
	val, ok := b.m.JoinThread(int32(tid))
	if !ok {
		writeError(h, errThreadNotAvail)
		return emu.SyscallOutcome{}
	}
	writeResult(h, resThreadId, val, 0)
	return emu.SyscallOutcome{}
}

// connect resolves a 16-byte name (packed into four little-endian words,
// per spec.md §4.7's "Connect/TryConnect(name[4])") via the name service
// directly, since this emulator's single well-known directory supersedes
// the original's fixed 4-word service id lookup (DESIGN.md).
func (b *Bridge) connect(h *emu.Hart, nameWords [4]uint32) emu.SyscallOutcome {
	buf := make([]byte, 16)
	for i, w := range nameWords {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	n := 16
	for n > 0 && buf[n-1] == 0 {
		n--
	}

	b.name.LendMutable(0, services.NameOpTryConnect, buf[:16], [2]uint32{0, uint32(n)})
	errFlag := binary.LittleEndian.Uint32(buf[0:4])
	if errFlag != 0 {
		writeError(h, binary.LittleEndian.Uint32(buf[4:8]))
		return emu.SyscallOutcome{}
	}
	cid := binary.LittleEndian.Uint32(buf[4:8])
	writeResult(h, resConnectionId, cid, 0)
	return emu.SyscallOutcome{}
}

// sendMessage implements the message protocol of spec.md §4.7: for kinds
// 1-3 it copies the guest buffer through the MMU, detaches the service
// from the connection table for the call's duration, dispatches, and
// reinserts it. Grounded on
// original_source/src/xous/syscalls.rs::send_message.
func (b *Bridge) sendMessage(h *emu.Hart, cid, kind, opcode uint32, args [4]uint32) emu.SyscallOutcome {
	var buf []byte
	if kind >= 1 && kind <= 3 {
		buf = make([]byte, args[1])
		for i := range buf {
			pa, trap := h.MMU().Translate(args[0]+uint32(i), emu.AccessRead, h.Privilege())
			if trap != nil {
				writeError(h, errBadAddress)
				return emu.SyscallOutcome{}
			}
			buf[i] = h.Memory().ReadByte(pa)
		}
	}

	svc, ok := b.m.Conns.Take(cid)
	if !ok {
		fmt.Fprintf(os.Stderr, "yove: unhandled connection id %d\n", cid)
		writeError(h, errServerNotFound)
		return emu.SyscallOutcome{}
	}
	extra := [2]uint32{args[2], args[3]}

	switch kind {
	case 1:
		r := svc.LendMutable(0, opcode, buf, extra)
		b.m.Conns.Put(cid, svc)
		if r.Async {
			return emu.SyscallOutcome{Pause: wrapMemoryReturned(r.Pause, args[0], buf)}
		}
		for i, bb := range buf {
			pa, trap := h.MMU().Translate(args[0]+uint32(i), emu.AccessWrite, h.Privilege())
			if trap == nil {
				h.Memory().WriteByte(pa, bb)
			}
		}
		writeResult(h, resMemoryReturned, r.Result0, r.Result1)
	case 2:
		r := svc.Lend(0, opcode, buf, extra)
		b.m.Conns.Put(cid, svc)
		if r.Async {
			return emu.SyscallOutcome{Pause: r.Pause}
		}
		writeResult(h, resMemoryReturned, r.Result0, r.Result1)
	case 3:
		svc.Send(0, opcode, buf, extra)
		b.m.Conns.Put(cid, svc)
		writeOk(h)
	case 4:
		svc.Scalar(0, opcode, args)
		b.m.Conns.Put(cid, svc)
		writeOk(h)
	case 5:
		r := svc.BlockingScalar(0, opcode, args)
		b.m.Conns.Put(cid, svc)
		switch r.Kind {
		case services.ScalarOne:
			writeResult(h, resScalar1, r.Values[0], 0)
		case services.ScalarTwo:
			writeResult(h, resScalar2, r.Values[0], r.Values[1])
		case services.ScalarFive:
			h.WriteX(10, resScalar5)
			h.WriteX(11, r.Values[0])
			h.WriteX(12, r.Values[1])
			h.WriteX(13, r.Values[2])
			h.WriteX(14, r.Values[3])
			h.WriteX(15, r.Values[4])
			h.WriteX(16, 0)
			h.WriteX(17, 0)
		case services.ScalarAsync:
			return emu.SyscallOutcome{Pause: r.Pause}
		}
	default:
		panic(fmt.Sprintf("machine: unknown message kind %d", kind))
	}
	return emu.SyscallOutcome{}
}

// wrapMemoryReturned adapts a Lend-mutable async pause so the eventual
// writeback also copies the lent buffer back into guest memory at va,
// the way the synchronous kind-1 path does inline.
func wrapMemoryReturned(in <-chan emu.PauseResult, va uint32, buf []byte) <-chan emu.PauseResult {
	out := make(chan emu.PauseResult, 1)
	go func() {
		r := <-in
		r.WriteBack = buf
		r.WriteBackVA = va
		r.HasWriteBack = len(buf) > 0
		out <- r
	}()
	return out
}
