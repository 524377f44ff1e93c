package emu

import "sync"

// AccessType distinguishes the permission a memory operation requires.
type AccessType int

const (
	AccessExecute AccessType = iota
	AccessRead
	AccessWrite
	AccessDontCare
)

// AddressingMode selects whether the MMU walks page tables at all.
type AddressingMode int

const (
	AddressingBare AddressingMode = iota
	AddressingSV32
)

// PTE bit positions, SV32.
const (
	pteValid    = 1 << 0
	pteRead     = 1 << 1
	pteWrite    = 1 << 2
	pteExecute  = 1 << 3
	pteUser     = 1 << 4
	pteGlobal   = 1 << 5
	pteAccessed = 1 << 6
	pteDirty    = 1 << 7
)

// MMU implements the SV32 two-level page walk plus a direct-mapped
// VPN-indexed translation cache. Grounded on
// original_source/crates/riscv-cpu/src/mmu.rs::traverse_page, the only
// SV32 (not SV39/48) walk in the example corpus.
type MMU struct {
	mode    AddressingMode
	ppn     uint32 // root page table PPN (from satp)
	mstatus uint32
	mem     *PhysicalMemory

	cacheMu sync.RWMutex
	cache   []int64 // VPN-indexed leaf PPN, -1 means empty
}

// vpnBits covers a 4 GiB address space in 4 KiB pages: 2^20 entries.
const vpnBits = 1 << 20

// NewMMU creates an MMU sharing the given physical memory. The
// translation cache starts empty.
func NewMMU(mem *PhysicalMemory) *MMU {
	cache := make([]int64, vpnBits)
	for i := range cache {
		cache[i] = -1
	}
	return &MMU{mem: mem, cache: cache}
}

func (m *MMU) updateSatp(satp uint32) {
	if satp&(1<<31) != 0 {
		m.mode = AddressingSV32
	} else {
		m.mode = AddressingBare
	}
	m.ppn = satp & 0x3f_ffff
}

func (m *MMU) updateMstatus(mstatus uint32) { m.mstatus = mstatus }

// InvalidateAll drops every cached translation. SFENCE.VMA is a no-op and
// does not call it; unmapping a page invalidates only that page through
// InvalidateVA.
func (m *MMU) InvalidateAll() {
	m.cacheMu.Lock()
	for i := range m.cache {
		m.cache[i] = -1
	}
	m.cacheMu.Unlock()
}

// InvalidateVA invalidates the single cached translation for the page
// containing va.
func (m *MMU) InvalidateVA(va uint32) {
	vpn := va / PageSize
	m.cacheMu.Lock()
	m.cache[vpn] = -1
	m.cacheMu.Unlock()
}

// setCache publishes a VPN -> leaf PPN translation; the walk calls it
// after resolving a level-0 leaf.
func (m *MMU) setCache(va uint32, ppn uint32) {
	vpn := va / PageSize
	m.cacheMu.Lock()
	m.cache[vpn] = int64(ppn)
	m.cacheMu.Unlock()
}

func checkPermission(access AccessType, flags uint32) bool {
	switch access {
	case AccessExecute:
		return flags&pteExecute != 0
	case AccessRead:
		return flags&pteRead != 0
	case AccessWrite:
		return flags&pteWrite != 0
	default: // AccessDontCare
		return true
	}
}

func pageFaultFor(access AccessType, va uint32) Trap {
	switch access {
	case AccessExecute:
		return Trap{Kind: InstructionPageFault, Tval: va}
	case AccessWrite:
		return Trap{Kind: StorePageFault, Tval: va}
	default:
		return Trap{Kind: LoadPageFault, Tval: va}
	}
}

// Translate converts a virtual address to a physical address under the
// given access type, walking SV32 page tables as needed. Every call
// re-validates permissions even when the translation cache has a hit
// (DESIGN.md Resolved Open Question 2): spec.md §4.4 states the cache
// "never substitutes for the access-type permission check, which the walk
// performs authoritatively," so a cache hit here still re-walks to confirm
// permissions rather than trusting a stale PPN's former flags.
func (m *MMU) Translate(va uint32, access AccessType, privilege PrivilegeMode) (uint32, *Trap) {
	if m.mode == AddressingBare {
		return va, nil
	}

	effectivePrivilege := privilege
	if privilege == PrivilegeMachine {
		mprv := m.mstatus&(1<<17) != 0
		if access == AccessExecute || !mprv {
			return va, nil
		}
		effectivePrivilege = PrivilegeMode((m.mstatus >> 11) & 0x3)
		if effectivePrivilege == PrivilegeMachine {
			return va, nil
		}
	}

	vpn0 := (va >> 12) & 0x3ff
	vpn1 := (va >> 22) & 0x3ff
	offset := va & 0xfff

	ppn, ok, trap := m.walk(vpn1, vpn0, offset, access, effectivePrivilege)
	if trap != nil {
		return 0, trap
	}
	if !ok {
		t := pageFaultFor(access, va)
		return 0, &t
	}
	return ppn, nil
}

// walk performs the two-level SV32 page-table walk. It returns the
// resolved physical address and whether it was found. Every failure,
// structural or permission, is reported as found=false with a nil Trap;
// Translate turns that into the page fault for the access type.
func (m *MMU) walk(vpn1, vpn0, offset uint32, access AccessType, privilege PrivilegeMode) (uint32, bool, *Trap) {
	// Level 1 (root).
	pteAddr1 := m.ppn*PageSize + vpn1*4
	pte1 := m.mem.ReadWord(pteAddr1)

	valid1 := pte1&pteValid != 0
	r1 := pte1&pteRead != 0
	w1 := pte1&pteWrite != 0
	x1 := pte1&pteExecute != 0
	if !valid1 || (!r1 && w1) {
		return 0, false, nil
	}

	if r1 || x1 {
		// Leaf at the upper level: a superpage. The lower PPN field must
		// be zero (spec.md §4.4).
		if !checkPermission(access, pte1) {
			return 0, false, nil
		}
		if !permitsUser(pte1, privilege) {
			return 0, false, nil
		}
		ppn := (pte1 >> 10) & 0x3f_ffff
		if ppn&0x3ff != 0 {
			return 0, false, nil
		}
		updateAD(m.mem, pteAddr1, pte1, access)
		ppn1 := ppn >> 10
		pa := (ppn1 << 22) | (vpn0 << 12) | offset
		return pa, true, nil
	}

	// Level 0 (leaf table).
	ppnNonLeaf := (pte1 >> 10) & 0x3f_ffff
	pteAddr0 := ppnNonLeaf*PageSize + vpn0*4
	pte0 := m.mem.ReadWord(pteAddr0)

	valid0 := pte0&pteValid != 0
	r0 := pte0&pteRead != 0
	w0 := pte0&pteWrite != 0
	x0 := pte0&pteExecute != 0
	if !valid0 || (!r0 && w0) {
		return 0, false, nil
	}
	if !r0 && !x0 {
		// Non-leaf at the final level is a structural failure in SV32
		// (only two levels exist).
		return 0, false, nil
	}

	if !checkPermission(access, pte0) {
		return 0, false, nil
	}
	if !permitsUser(pte0, privilege) {
		return 0, false, nil
	}

	updateAD(m.mem, pteAddr0, pte0, access)
	ppn0 := (pte0 >> 10) & 0x3f_ffff
	pa := (ppn0 << 12) | offset

	va := (vpn1 << 22) | (vpn0 << 12) | offset
	m.setCache(va, ppn0)

	return pa, true, nil
}

// permitsUser enforces the U bit: User-mode accesses require U=1; this
// emulator has no SUM/MXR beyond the straightforward "S-mode may not touch
// U pages" rule implied by spec.md's walk description.
func permitsUser(pte uint32, privilege PrivilegeMode) bool {
	u := pte&pteUser != 0
	if privilege == PrivilegeUser {
		return u
	}
	return true
}

// updateAD performs the lazy A/D update-on-access: if A=0 or (this is a
// write and D=0), write back A=1 (and D=1 on write). Performed after the
// permission check, per DESIGN.md Resolved Open Question 3 (spec.md's
// bullet order lists permission enforcement before the A/D bullet).
func updateAD(mem *PhysicalMemory, pteAddr uint32, pte uint32, access AccessType) {
	a := pte&pteAccessed != 0
	d := pte&pteDirty != 0
	if !a || (access == AccessWrite && !d) {
		pte |= pteAccessed
		if access == AccessWrite {
			pte |= pteDirty
		}
		mem.WriteWord(pteAddr, pte)
	}
}
