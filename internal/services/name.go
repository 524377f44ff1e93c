package services

import (
	"encoding/binary"
	"sync"
)

// Name opcodes, grounded on original_source/src/xous/services/name.rs's
// NameLendOpcode. Only TryConnect/BlockingConnect are implemented, the
// original's only non-panicking paths; the rest are unused by any guest
// this emulator runs in practice.
const (
	nameOpRegister            = 0
	nameOpLookup              = 1
	nameOpAuthenticatedLookup = 2
	nameOpUnregister          = 3
	nameOpDisconnect          = 4
	nameOpTrustedInitDone     = 5
	nameOpBlockingConnect     = 6
	nameOpTryConnect          = 7
)

// errServerNotFound is the SyscallErrorNumber ServerNotFound code; the
// bridge forwards it unchanged as the Connect syscall's error.
const errServerNotFound = 9

// NameOpTryConnect is exported so internal/machine can invoke the name
// service directly for the low-level Connect/TryConnect syscalls (spec.md
// §4.7), which pass a 16-byte name in registers rather than through a
// lent SendMessage buffer.
const NameOpTryConnect = nameOpTryConnect

// Name is the directory service that resolves a string name to a
// connection id, spawning one of a small fixed set of well-known
// services on first lookup. Grounded on
// original_source/src/xous/services/name.rs, with the fixed name set
// itself carried over from original_source/src/xous/services.rs's
// get_service (ticktimer-server, xous-log-server ).
type Name struct {
	Unimplemented

	registry    Registry
	dnsUpstream string

	mu    sync.Mutex
	index map[string]uint32
}

// NewName builds the name service. dnsUpstream is forwarded to any
// DnsResolver it spawns on demand; an empty string uses that service's
// own built-in default.
func NewName(registry Registry, dnsUpstream string) *Name {
	return &Name{
		Unimplemented: Unimplemented{Name: "xous-name-server"},
		registry:      registry,
		dnsUpstream:   dnsUpstream,
		index:         make(map[string]uint32),
	}
}

func (n *Name) returnConnection(buf []byte, cid uint32) LendResult {
	if len(buf) >= 8 {
		binary.LittleEndian.PutUint32(buf[0:4], 0)
		binary.LittleEndian.PutUint32(buf[4:8], cid)
	}
	return syncLend(0, 0)
}

func (n *Name) returnError(buf []byte, code uint32) LendResult {
	if len(buf) >= 8 {
		binary.LittleEndian.PutUint32(buf[0:4], 1)
		binary.LittleEndian.PutUint32(buf[4:8], code)
	}
	return syncLend(0, 0)
}

func (n *Name) LendMutable(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	switch opcode {
	case nameOpRegister:
		panic("services: name Register opcode unimplemented")
	case nameOpTryConnect, nameOpBlockingConnect:
		return n.connect(buf, extra)
	default:
		panic("services: unhandled name lend_mut opcode")
	}
}

func (n *Name) connect(buf []byte, extra [2]uint32) LendResult {
	length := int(extra[1])
	if length > len(buf) {
		length = len(buf)
	}
	name := string(buf[:length])

	n.mu.Lock()
	cid, ok := n.index[name]
	n.mu.Unlock()
	if ok {
		return n.returnConnection(buf, cid)
	}

	var svc Service
	switch name {
	case "ticktimer-server":
		svc = NewTickTimer()
	case "xous-log-server ":
		svc = NewLog()
	case "panic-to-screen!":
		svc = NewPanicToScreen()
	case "_DNS Resolver Middleware_":
		svc = NewDnsResolver(n.dnsUpstream)
	default:
		// Resolved open question 4 (SPEC_FULL.md §6): the original
		// exits the process here; a graceful ServerNotFound is
		// returned instead.
		return n.returnError(buf, errServerNotFound)
	}

	cid = n.registry.Register(svc)
	n.mu.Lock()
	n.index[name] = cid
	n.mu.Unlock()
	return n.returnConnection(buf, cid)
}
