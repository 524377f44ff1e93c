// Package machine coordinates multiple emu.Hart instances sharing one
// physical address space, builds guest process entry state from an ELF32
// image, and bridges ECALL to the host services in internal/services.
// Grounded on original_source/src/xous.rs's Machine/Worker/Memory triple,
// simplified: a native goroutine per hart instead of the original's extra channel-mediated
// coordinator-thread hop, since Go's scheduler already gives us cheap,
// directly-joinable OS-thread-backed goroutines.
package machine

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/betrusted-io/yove/internal/emu"
	"github.com/betrusted-io/yove/internal/services"
)

// Fixed address-space layout, grounded on original_source/src/xous.rs's
// MEMORY_BASE/ALLOCATION_START/ALLOCATION_END/HEAP_START/HEAP_END/
// STACK_START/STACK_END constants (spec.md §3's virtual-region planner).
const (
	MemoryBase = 0x8000_0000

	AllocStart = 0x4000_0000
	AllocEnd   = AllocStart + 5*1024*1024

	HeapStart = 0xa000_0000
	HeapEnd   = HeapStart + 5*1024*1024

	StackStart = 0xc000_0000
	StackEnd   = 0xc002_0000

	// DefaultMemoryBytes mirrors the original's 16 MiB physical pool.
	DefaultMemoryBytes = 16 * 1024 * 1024
)

// SV32 PTE flag bits, restated here (rather than imported) since
// internal/emu/mmu.go keeps them unexported: the page-table format is a
// fixed part of the SV32 standard, not an internal MMU implementation
// detail, so duplicating the eight bit positions is not a layering
// violation.
const (
	pteValid    = 1 << 0
	pteRead     = 1 << 1
	pteWrite    = 1 << 2
	pteExecute  = 1 << 3
	pteUser     = 1 << 4
	pteAccessed = 1 << 6
	pteDirty    = 1 << 7

	leafFlags = pteValid | pteRead | pteWrite | pteExecute | pteUser | pteAccessed | pteDirty
)

// hartState tracks one running hart's completion.
type hartState struct {
	hart *emu.Hart
	done chan struct{}
	exit uint32
}

// Machine owns the shared physical memory, the root page table, the
// service connection table, and the set of running harts.
type Machine struct {
	mem    *emu.PhysicalMemory
	Conns  *services.Table
	rootPT uint32
	satp   uint32

	mu    sync.Mutex
	harts map[int32]*hartState

	nextTID atomic.Int32

	allocMu   sync.Mutex
	allocNext uint32

	heapMu   sync.Mutex
	heapSize uint32
}

// NewMachine creates the shared physical memory pool and its root page
// table, memoryBytes in size (or DefaultMemoryBytes if memoryBytes is zero).
func NewMachine(memoryBytes uint32, conns *services.Table) *Machine {
	if memoryBytes == 0 {
		memoryBytes = DefaultMemoryBytes
	}
	mem := emu.NewPhysicalMemory(MemoryBase, memoryBytes)
	rootPT := mem.AllocatePage()
	satp := (rootPT/emu.PageSize)&0x3f_ffff | (1 << 31)

	m := &Machine{
		mem:       mem,
		Conns:     conns,
		rootPT:    rootPT,
		satp:      satp,
		harts:     make(map[int32]*hartState),
		allocNext: AllocStart,
	}
	m.nextTID.Store(1)
	return m
}

func (m *Machine) Memory() *emu.PhysicalMemory { return m.mem }
func (m *Machine) Satp() uint32                { return m.satp }

func vpnIndices(va uint32) (vpn1, vpn0, offset uint32) {
	return (va >> 22) & 0x3ff, (va >> 12) & 0x3ff, va & 0xfff
}

// virtToPhys walks the shared page tables directly (not through any
// hart's MMU, since the tables themselves are the single source of truth
// shared by every hart's MMU cache). Grounded on
// original_source/src/xous.rs::Memory::virt_to_phys.
func (m *Machine) virtToPhys(va uint32) (uint32, bool) {
	vpn1, vpn0, offset := vpnIndices(va)
	l1 := m.mem.ReadWord(m.rootPT + vpn1*4)
	if l1&pteValid == 0 {
		return 0, false
	}
	if l1&(pteExecute|pteRead|pteWrite) != 0 {
		return 0, false
	}
	l0PT := (l1 >> 10) << 12
	l0 := m.mem.ReadWord(l0PT + vpn0*4)
	if l0&pteValid == 0 {
		return 0, false
	}
	return ((l0 >> 10) << 12) | offset, true
}

// ensurePage guarantees va is backed by a physical page, allocating
// intermediate and leaf pages on demand. Returns whether it allocated
// anything new (spec.md §8: "ensure_page(va); ensure_page(va) leaves
// memory state unchanged after the first call").
func (m *Machine) ensurePage(va uint32) bool {
	if va == 0 {
		panic("machine: attempt to ensure the zero page")
	}
	vpn1, vpn0, _ := vpnIndices(va)
	allocated := false

	l1Addr := m.rootPT + vpn1*4
	l1 := m.mem.ReadWord(l1Addr)
	if l1&pteValid == 0 {
		l0PT := m.mem.AllocatePage()
		l1 = ((l0PT>>12)<<10 | pteValid | pteAccessed | pteDirty)
		m.mem.WriteWord(l1Addr, l1)
		allocated = true
	}

	l0PT := (l1 >> 10) << 12
	l0Addr := l0PT + vpn0*4
	l0 := m.mem.ReadWord(l0Addr)
	if l0&pteValid == 0 {
		phys := m.mem.AllocatePage()
		l0 = (phys>>12)<<10 | leafFlags
		m.mem.WriteWord(l0Addr, l0)
		allocated = true
	}
	return allocated
}

// freeVirtPage releases the leaf page mapped at va and returns it to the
// free pool. Grounded on original_source/src/xous.rs::Memory::free_virt_page.
func (m *Machine) freeVirtPage(va uint32, invalidate func(uint32)) error {
	phys, ok := m.virtToPhys(va)
	if !ok {
		return fmt.Errorf("machine: free of unmapped page %#x", va)
	}
	vpn1, vpn0, _ := vpnIndices(va)
	l1Addr := m.rootPT + vpn1*4
	l1 := m.mem.ReadWord(l1Addr)
	l0PT := (l1 >> 10) << 12
	l0Addr := l0PT + vpn0*4

	m.mem.WriteWord(l0Addr, 0)
	m.mem.FreePage(phys)
	if invalidate != nil {
		invalidate(va)
	}
	return nil
}

// removeMemoryFlags clears the R/W/X bits of the leaf PTE mapped at va that
// newFlags does not include; it can only remove permissions, never add
// them (spec.md §4.7's UpdateMemoryFlags).
func (m *Machine) removeMemoryFlags(va uint32, newFlags uint32) {
	newFlags &= pteRead | pteWrite | pteExecute
	vpn1, vpn0, _ := vpnIndices(va)
	l1Addr := m.rootPT + vpn1*4
	l1 := m.mem.ReadWord(l1Addr)
	if l1&pteValid == 0 {
		return
	}
	l0PT := (l1 >> 10) << 12
	l0Addr := l0PT + vpn0*4
	l0 := m.mem.ReadWord(l0Addr)
	if l0&pteValid == 0 {
		return
	}
	l0 &^= (pteRead | pteWrite | pteExecute) &^ newFlags
	m.mem.WriteWord(l0Addr, l0)
}

// updateMemoryFlags clears R/W/X bits across every page in [va, va+size),
// per-page rather than the original's per-byte loop (SPEC_FULL.md §6):
// remove_memory_flags only ever touches the page a given address falls
// in, so visiting every byte re-does the same page write up to 4096
// times for no added effect.
func (m *Machine) updateMemoryFlags(va, size, newFlags uint32) {
	start := va &^ (emu.PageSize - 1)
	end := va + size
	for page := start; page < end; page += emu.PageSize {
		m.removeMemoryFlags(page, newFlags)
	}
}

// allocateVirtRegion finds a run of contiguous unmapped pages covering size
// bytes (rounded up to whole pages) in the allocation window, maps them,
// and returns the base VA. The search starts at a rolling cursor and wraps
// once. The whole run is checked for being unmapped before any page is
// mapped; pages mapped so far are not rolled back if physical memory runs
// out while mapping, since AllocatePage panics in that case.
func (m *Machine) allocateVirtRegion(size uint32) (uint32, bool) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	pages := (size + emu.PageSize - 1) / emu.PageSize
	span := pages * emu.PageSize

	try := func(start uint32) (uint32, bool) {
		for page := start; page < start+span; page += emu.PageSize {
			if _, ok := m.virtToPhys(page); ok {
				return 0, false
			}
		}
		return start, true
	}

	var found uint32
	ok := false
	for start := m.allocNext; start+span <= AllocEnd; start += emu.PageSize {
		if s, match := try(start); match {
			found, ok = s, true
			break
		}
	}
	if !ok {
		for start := uint32(AllocStart); start+span <= m.allocNext; start += emu.PageSize {
			if s, match := try(start); match {
				found, ok = s, true
				break
			}
		}
	}
	if !ok {
		return 0, false
	}
	m.allocNext = found + span

	for page := found; page < found+span; page += emu.PageSize {
		m.ensurePage(page)
	}
	return found, true
}

// increaseHeap implements spec.md §4.6: delta must be page-aligned; zero
// returns the current region; positive grows up to HeapEnd; negative is
// rejected (SPEC_FULL.md §6 resolved open question 7).
func (m *Machine) increaseHeap(delta uint32) (base uint32, size uint32, ok bool) {
	m.heapMu.Lock()
	defer m.heapMu.Unlock()

	if delta == 0 {
		sz := m.heapSize
		if sz == 0 {
			sz = emu.PageSize
		}
		return HeapStart, sz, true
	}
	if delta%emu.PageSize != 0 {
		return 0, 0, false
	}

	heapAddr := HeapStart + m.heapSize
	if uint64(heapAddr)+uint64(delta) > HeapEnd {
		return 0, 0, false
	}
	for page := heapAddr; page < heapAddr+delta; page += emu.PageSize {
		m.ensurePage(page)
	}
	base = HeapStart + m.heapSize
	m.heapSize += delta
	return base, delta, true
}

// ensureRange maps every page overlapping [va, va+size).
func (m *Machine) ensureRange(va, size uint32) {
	start := va &^ (emu.PageSize - 1)
	end := va + size
	for page := start; page < end; page += emu.PageSize {
		m.ensurePage(page)
	}
}

// writeBytes copies data into guest memory starting at va, mapping
// pages on demand. Used only before any hart exists (ELF section and
// argument-block loading), so it walks the shared page tables directly
// rather than going through a hart's MMU.
func (m *Machine) writeBytes(va uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	m.ensureRange(va, uint32(len(data)))
	for i, b := range data {
		pa, ok := m.virtToPhys(va + uint32(i))
		if !ok {
			panic("machine: writeBytes to unmapped page after ensureRange")
		}
		m.mem.WriteByte(pa, b)
	}
}

// CreateThread spawns a new hart sharing this machine's address space,
// dropping it to User mode at entry with the given stack and arguments,
// and returns its thread id. Grounded on
// original_source/src/xous.rs::Machine::run's MemoryCommand::CreateThread
// handling.
func (m *Machine) CreateThread(bridge emu.SyscallBridge, entry, sp, stackLen, a1, a2, a3, a4 uint32) int32 {
	tid := m.nextTID.Add(1) - 1
	h := emu.NewHart(int(tid), m.mem, bridge)
	enterUser(h, m.satp, entry)

	h.WriteX(2, sp+stackLen-16)
	h.WriteX(10, a1)
	h.WriteX(11, a2)
	h.WriteX(12, a3)
	h.WriteX(13, a4)

	st := &hartState{hart: h, done: make(chan struct{})}
	m.mu.Lock()
	m.harts[tid] = st
	m.mu.Unlock()

	go m.runHart(tid, st)
	return tid
}

// Spawn registers and runs the already-built entry hart LoadProgram
// returns, as thread id 0 (original_source/src/xous.rs's
// `Worker::new(cpu, 0, memory)` for the initial thread, distinct from
// CreateThread's counter which starts at 1).
func (m *Machine) Spawn(h *emu.Hart) int32 {
	st := &hartState{hart: h, done: make(chan struct{})}
	m.mu.Lock()
	m.harts[0] = st
	m.mu.Unlock()

	go m.runHart(0, st)
	return 0
}

// enterUser writes the entry-state CSRs and executes the SRET drop to
// User mode, per spec.md §6's "Process entry state".
func enterUser(h *emu.Hart, satp, entry uint32) {
	h.WriteCSR(emu.CSRSatp, satp)
	h.WriteCSR(emu.CSRMstatus, 1<<5)
	h.WriteCSR(emu.CSRSepc, entry)
	h.Sret()
}

// runHart drives one hart's tick loop until it exits or traps fatally,
// applying asynchronous syscall results as they arrive on the pause
// channel. Grounded on original_source/src/xous.rs::Worker::run.
func (m *Machine) runHart(tid int32, st *hartState) {
	h := st.hart
	for {
		outcome := h.Tick()
		switch outcome.Kind {
		case emu.TickOk:
			continue
		case emu.TickExitThread:
			st.exit = outcome.ExitCode
			close(st.done)
			return
		case emu.TickPauseEmulation:
			result := <-outcome.Pause
			if result.HasWriteBack {
				for i, b := range result.WriteBack {
					pa, trap := h.MMU().Translate(result.WriteBackVA+uint32(i), emu.AccessWrite, h.Privilege())
					if trap != nil {
						continue
					}
					h.Memory().WriteByte(pa, b)
				}
			}
			for i, v := range result.Regs {
				h.WriteX(uint32(10+i), v)
			}
		case emu.TickCpuTrap:
			fmt.Fprintf(os.Stderr, "yove: unhandled trap on thread %d at pc %#08x: %s\n",
				tid, h.PC(), outcome.Trap.Error())
			m.dumpPageTables(tid)
			st.exit = 0xffff_ffff
			close(st.done)
			return
		}
	}
}

// dumpPageTables prints every valid leaf mapping to stderr, the
// diagnostic spec.md §7 calls for on an unhandled CPU trap.
func (m *Machine) dumpPageTables(tid int32) {
	fmt.Fprintf(os.Stderr, "yove: page table dump (thread %d):\n", tid)
	for vpn1 := uint32(0); vpn1 < 1024; vpn1++ {
		l1 := m.mem.ReadWord(m.rootPT + vpn1*4)
		if l1&pteValid == 0 {
			continue
		}
		l0PT := (l1 >> 10) << 12
		for vpn0 := uint32(0); vpn0 < 1024; vpn0++ {
			l0 := m.mem.ReadWord(l0PT + vpn0*4)
			if l0&pteValid == 0 {
				continue
			}
			va := vpn1<<22 | vpn0<<12
			phys := (l0 >> 10) << 12
			fmt.Fprintf(os.Stderr, "  va %#08x -> pa %#08x flags %#02x\n", va, phys, l0&0xff)
		}
	}
}

// JoinThread blocks until tid exits and returns its exit value.
func (m *Machine) JoinThread(tid int32) (uint32, bool) {
	m.mu.Lock()
	st, ok := m.harts[tid]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	<-st.done
	return st.exit, true
}
