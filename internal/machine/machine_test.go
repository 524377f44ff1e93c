package machine

import (
	"encoding/binary"
	"testing"

	"github.com/betrusted-io/yove/internal/services"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	conns := services.NewTable()
	return NewMachine(0, conns)
}

func TestEnsurePageIsIdempotent(t *testing.T) {
	m := newTestMachine(t)
	va := uint32(AllocStart)

	if !m.ensurePage(va) {
		t.Fatalf("first ensurePage(%#x) should allocate", va)
	}
	if m.ensurePage(va) {
		t.Fatalf("second ensurePage(%#x) should be a no-op", va)
	}
	if _, ok := m.virtToPhys(va); !ok {
		t.Fatalf("virtToPhys(%#x) should resolve after ensurePage", va)
	}
}

func TestEnsurePageRejectsZeroPage(t *testing.T) {
	m := newTestMachine(t)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic ensuring the zero page")
		}
	}()
	m.ensurePage(0)
}

func TestFreeVirtPageUnmaps(t *testing.T) {
	m := newTestMachine(t)
	va := uint32(AllocStart)
	m.ensurePage(va)

	if err := m.freeVirtPage(va, nil); err != nil {
		t.Fatalf("freeVirtPage: %v", err)
	}
	if _, ok := m.virtToPhys(va); ok {
		t.Fatalf("virtToPhys(%#x) should fail after freeVirtPage", va)
	}
	if err := m.freeVirtPage(va, nil); err == nil {
		t.Fatalf("freeing an already-unmapped page should error")
	}
}

func TestAllocateVirtRegionNonOverlapping(t *testing.T) {
	m := newTestMachine(t)

	first, ok := m.allocateVirtRegion(8192)
	if !ok {
		t.Fatal("first allocateVirtRegion failed")
	}
	second, ok := m.allocateVirtRegion(4096)
	if !ok {
		t.Fatal("second allocateVirtRegion failed")
	}
	if second >= first && second < first+8192 {
		t.Fatalf("regions overlap: first=%#x second=%#x", first, second)
	}
	for _, va := range []uint32{first, first + 4096, second} {
		if _, ok := m.virtToPhys(va); !ok {
			t.Errorf("allocated page %#x is not mapped", va)
		}
	}
}

func TestIncreaseHeapWindowAndGrowth(t *testing.T) {
	m := newTestMachine(t)

	base, size, ok := m.increaseHeap(0)
	if !ok || base != HeapStart || size != 4096 {
		t.Fatalf("initial heap window: base=%#x size=%d ok=%v", base, size, ok)
	}

	grown, delta, ok := m.increaseHeap(4096)
	if !ok || grown != HeapStart || delta != 4096 {
		t.Fatalf("grow heap: base=%#x delta=%d ok=%v", grown, delta, ok)
	}

	_, _, ok = m.increaseHeap(0xffff_f000)
	if ok {
		t.Fatal("increasing past HeapEnd should fail")
	}
}

func TestUpdateMemoryFlagsClearsPermissions(t *testing.T) {
	m := newTestMachine(t)
	va := uint32(AllocStart)
	m.ensurePage(va)

	m.updateMemoryFlags(va, 4096, 0)

	vpn1, vpn0, _ := vpnIndices(va)
	l1 := m.mem.ReadWord(m.rootPT + vpn1*4)
	l0PT := (l1 >> 10) << 12
	l0 := m.mem.ReadWord(l0PT + vpn0*4)
	if l0&(pteRead|pteWrite|pteExecute) != 0 {
		t.Errorf("expected R/W/X cleared, got flags %#x", l0&0xff)
	}
	if l0&pteValid == 0 {
		t.Error("page should remain valid after flag update")
	}
}

// TestCreateThreadExitsViaSentinel verifies the full hart-spawn/join path:
// a thread absolute-jumps to the guest-exit sentinel address with its exit
// code in a0, which the emulator converts into ExitThread on the resulting
// instruction-fetch page fault (internal/emu/hart.go's Tick).
func TestCreateThreadExitsViaSentinel(t *testing.T) {
	m := newTestMachine(t)
	entry := uint32(AllocStart)

	// li a0, 42
	// lui t0, 0xff803000   (exit sentinel, already page-aligned: lo=0)
	// jalr x0, 0(t0)
	program := []uint32{
		0x02a00513,
		0xff8032b7,
		0x00028067,
	}
	buf := make([]byte, len(program)*4)
	for i, w := range program {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	m.ensureRange(entry, uint32(len(buf)))
	m.writeBytes(entry, buf)

	tid := m.CreateThread(nil, entry, StackStart, 0x1000, 0, 0, 0, 0)
	exitCode, ok := m.JoinThread(tid)
	if !ok {
		t.Fatal("JoinThread reported unknown tid")
	}
	if exitCode != 42 {
		t.Fatalf("expected exit code 42, got %d", exitCode)
	}
}

func TestSplitArgv(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{"no-separator", []string{"prog", "a", "b"}, []string{"prog", "a", "b"}},
		{"with-separator", []string{"prog", "-x", "--", "a", "b"}, []string{"a", "b"}},
		{"separator-at-end", []string{"prog", "--"}, []string{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := SplitArgv(c.in)
			if len(got) != len(c.want) {
				t.Fatalf("SplitArgv(%v) = %v, want %v", c.in, got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Fatalf("SplitArgv(%v) = %v, want %v", c.in, got, c.want)
				}
			}
		})
	}
}
