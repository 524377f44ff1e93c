package machine

import (
	"testing"

	"github.com/betrusted-io/yove/internal/emu"
	"github.com/betrusted-io/yove/internal/services"
)

// recordingService is a minimal services.Service that records Scalar calls
// instead of panicking, for exercising Bridge.sendMessage's kind-4 path.
type recordingService struct {
	services.Unimplemented
	lastOpcode uint32
	lastArgs   [4]uint32
}

func (r *recordingService) Scalar(sender, opcode uint32, args [4]uint32) {
	r.lastOpcode = opcode
	r.lastArgs = args
}

func newTestBridge(t *testing.T) (*Bridge, *Machine) {
	t.Helper()
	conns := services.NewTable()
	name := services.NewName(conns, "")
	m := NewMachine(0, conns)
	return NewBridge(m, name), m
}

func newBareHart(m *Machine, bridge emu.SyscallBridge) *emu.Hart {
	// No SATP write: the MMU stays in AddressingBare mode, so every
	// virtual address the bridge translates is its own physical address,
	// letting these tests address the shared pool directly.
	return emu.NewHart(0, m.mem, bridge)
}

func TestBridgeMapMemoryAllocatesRegion(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)

	h.WriteX(10, sysMapMemory)
	h.WriteX(11, 0) // phys
	h.WriteX(12, 0) // virt
	h.WriteX(13, 8192)
	h.WriteX(14, 0)

	b.HandleECALL(h)

	if tag := h.ReadX(10); tag != resMemoryRange {
		t.Fatalf("expected resMemoryRange tag, got %d", tag)
	}
	region := h.ReadX(11)
	if region < AllocStart || region >= AllocEnd {
		t.Fatalf("region %#x is outside the allocation window", region)
	}
}

func TestBridgeMapMemoryRejectsFixedAddress(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a non-zero phys/virt MapMemory request")
		}
	}()
	b.mapMemory(h, 0x1000, 0, 4096, 0)
}

func TestBridgeIncreaseHeap(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)

	h.WriteX(10, sysIncreaseHeap)
	h.WriteX(11, 4096)
	b.HandleECALL(h)

	if tag := h.ReadX(10); tag != resMemoryRange {
		t.Fatalf("expected resMemoryRange tag, got %d", tag)
	}
	if base := h.ReadX(11); base != HeapStart {
		t.Fatalf("expected heap base %#x, got %#x", HeapStart, base)
	}
}

func TestBridgeGetProcessId(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)
	h.WriteX(10, sysGetProcessId)
	b.HandleECALL(h)

	if tag := h.ReadX(10); tag != resProcessId {
		t.Fatalf("expected resProcessId tag, got %d", tag)
	}
	if pid := h.ReadX(11); pid != fixedProcessID {
		t.Fatalf("expected fixed pid %d, got %d", fixedProcessID, pid)
	}
}

func TestBridgeConnectUnknownService(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)

	name := "does-not-exist!!"
	words := packName(name)
	h.WriteX(10, sysConnect)
	h.WriteX(11, words[0])
	h.WriteX(12, words[1])
	h.WriteX(13, words[2])
	h.WriteX(14, words[3])
	b.HandleECALL(h)

	if tag := h.ReadX(10); tag != resError {
		t.Fatalf("expected resError tag, got %d", tag)
	}
	if code := h.ReadX(11); code != errServerNotFound {
		t.Fatalf("expected errServerNotFound, got %d", code)
	}
}

func TestBridgeConnectKnownService(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)

	words := packName("panic-to-screen!")
	h.WriteX(10, sysConnect)
	h.WriteX(11, words[0])
	h.WriteX(12, words[1])
	h.WriteX(13, words[2])
	h.WriteX(14, words[3])
	b.HandleECALL(h)

	if tag := h.ReadX(10); tag != resConnectionId {
		t.Fatalf("expected resConnectionId tag, got %d", tag)
	}
	if cid := h.ReadX(11); cid == 0 {
		t.Fatal("expected a non-zero connection id")
	}
}

func TestBridgeSendMessageScalar(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)

	svc := &recordingService{Unimplemented: services.Unimplemented{Name: "recorder"}}
	cid := b.m.Conns.Register(svc)

	h.WriteX(10, sysSendMessage)
	h.WriteX(11, cid)
	h.WriteX(12, 4) // kind: scalar
	h.WriteX(13, 77)
	h.WriteX(14, 1)
	h.WriteX(15, 2)
	h.WriteX(16, 3)
	h.WriteX(17, 4)
	b.HandleECALL(h)

	if svc.lastOpcode != 77 {
		t.Fatalf("expected opcode 77 delivered, got %d", svc.lastOpcode)
	}
	if svc.lastArgs != [4]uint32{1, 2, 3, 4} {
		t.Fatalf("expected args [1 2 3 4], got %v", svc.lastArgs)
	}
	if tag := h.ReadX(10); tag != resOk {
		t.Fatalf("expected resOk tag, got %d", tag)
	}
}

func TestBridgeSendMessageUnknownConnection(t *testing.T) {
	b, _ := newTestBridge(t)
	h := newBareHart(b.m, b)

	h.WriteX(10, sysSendMessage)
	h.WriteX(11, 0xdeadbeef)
	h.WriteX(12, 4)
	b.HandleECALL(h)

	if tag := h.ReadX(10); tag != resError {
		t.Fatalf("expected resError tag, got %d", tag)
	}
	if code := h.ReadX(11); code != errServerNotFound {
		t.Fatalf("expected errServerNotFound, got %d", code)
	}
}

func TestBridgeJoinThread(t *testing.T) {
	b, m := newTestBridge(t)
	h := newBareHart(b.m, b)

	entry := uint32(AllocStart)
	program := []uint32{
		0x02a00513, // li a0, 42
		0xff8032b7, // lui t0, exit sentinel
		0x00028067, // jalr x0, 0(t0)
	}
	buf := make([]byte, len(program)*4)
	for i, w := range program {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	m.ensureRange(entry, uint32(len(buf)))
	m.writeBytes(entry, buf)

	tid := m.CreateThread(b, entry, StackStart, 0x1000, 0, 0, 0, 0)

	h.WriteX(10, sysJoinThread)
	h.WriteX(11, uint32(tid))
	b.HandleECALL(h)

	if tag := h.ReadX(10); tag != resThreadId {
		t.Fatalf("expected resThreadId tag, got %d", tag)
	}
	if v := h.ReadX(11); v != 42 {
		t.Fatalf("expected joined thread's exit code 42, got %d", v)
	}
}

// packName matches internal/machine/syscall.go's Bridge.connect encoding:
// a name packed into four little-endian words.
func packName(name string) [4]uint32 {
	var buf [16]byte
	copy(buf[:], name)
	var words [4]uint32
	for i := range words {
		words[i] = uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
	}
	return words
}
