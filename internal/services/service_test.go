package services

import (
	"testing"
	"time"
)

type nopService struct{ Unimplemented }

func TestTableRegisterTakePut(t *testing.T) {
	tbl := NewTable()
	svc := &nopService{Unimplemented{Name: "nop"}}

	cid := tbl.Register(svc)
	if cid == 0 {
		t.Fatal("Register should never hand out connection id 0")
	}

	got, ok := tbl.Take(cid)
	if !ok || got != svc {
		t.Fatalf("Take(%d) = %v, %v", cid, got, ok)
	}
	if _, ok := tbl.Take(cid); ok {
		t.Fatal("Take should detach the service until Put reinserts it")
	}

	tbl.Put(cid, svc)
	if _, ok := tbl.Take(cid); !ok {
		t.Fatal("Put should reinsert the service")
	}
}

func TestTableRegisterAtAdvancesCounter(t *testing.T) {
	tbl := NewTable()
	svc := &nopService{Unimplemented{Name: "nop"}}
	tbl.RegisterAt(5, svc)

	next := tbl.Register(&nopService{Unimplemented{Name: "nop2"}})
	if next <= 5 {
		t.Fatalf("Register after RegisterAt(5, ...) should allocate above 5, got %d", next)
	}
}

func TestNameConnectUnknownService(t *testing.T) {
	tbl := NewTable()
	name := NewName(tbl, "")
	buf := make([]byte, 16)
	copy(buf, "no-such-service!")

	name.LendMutable(0, NameOpTryConnect, buf, [2]uint32{0, uint32(len("no-such-service!"))})

	if buf[0] != 1 {
		t.Fatalf("expected error flag set for unknown service, got buf[0]=%d", buf[0])
	}
	if buf[4] != errServerNotFound {
		t.Fatalf("expected ServerNotFound code, got %d", buf[4])
	}
}

func TestNameConnectKnownServiceIsMemoized(t *testing.T) {
	tbl := NewTable()
	name := NewName(tbl, "")
	const svcName = "panic-to-screen!"
	buf := make([]byte, 16)
	copy(buf, svcName)

	name.LendMutable(0, NameOpTryConnect, buf, [2]uint32{0, uint32(len(svcName))})
	if buf[0] != 0 {
		t.Fatalf("expected success connecting to %q, got error code %d", svcName, buf[4])
	}
	first := buf[4]

	buf2 := make([]byte, 16)
	copy(buf2, svcName)
	name.LendMutable(0, NameOpTryConnect, buf2, [2]uint32{0, uint32(len(svcName))})
	if buf2[4] != first {
		t.Fatalf("second connect to the same name should reuse the connection id: got %d, want %d", buf2[4], first)
	}
}

func TestPanicToScreenAppendText(t *testing.T) {
	p := NewPanicToScreen()
	buf := []byte("guest panicked: out of bounds")
	result := p.LendMutable(0, panicToScreenOpAppendText, buf, [2]uint32{0, uint32(len(buf))})
	if result.Result0 != 0 || result.Result1 != 0 {
		t.Fatalf("expected a zero/zero synchronous reply, got %+v", result)
	}
}

func TestPanicToScreenRejectsUnknownOpcode(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for an unhandled panic-to-screen opcode")
		}
	}()
	NewPanicToScreen().LendMutable(0, 99, nil, [2]uint32{})
}

func TestDnsLookupRejectsEmptyName(t *testing.T) {
	d := NewDnsResolver("")
	buf := make([]byte, 4)
	result := d.LendMutable(0, dnsOpRawLookup, buf, [2]uint32{0, 0})
	if buf[0] != 1 {
		t.Fatalf("expected error flag for an empty query name, got buf[0]=%d", buf[0])
	}
	if result.Result0 != 0 || result.Result1 != 0 {
		t.Fatalf("expected a zero/zero synchronous reply, got %+v", result)
	}
}

func TestDnsLookupRejectsWrongOpcode(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for an unhandled dns opcode")
		}
	}()
	NewDnsResolver("").LendMutable(0, 0, nil, [2]uint32{})
}

func TestTickTimerElapsedMs(t *testing.T) {
	tt := NewTickTimer()
	r1 := tt.BlockingScalar(0, opElapsedMs, [4]uint32{})
	if r1.Kind != ScalarTwo {
		t.Fatalf("expected ScalarTwo, got %v", r1.Kind)
	}
	time.Sleep(5 * time.Millisecond)
	r2 := tt.BlockingScalar(0, opElapsedMs, [4]uint32{})
	if r2.Values[0] < r1.Values[0] {
		t.Fatalf("elapsed ms should be monotonic: %d then %d", r1.Values[0], r2.Values[0])
	}
}

func TestTickTimerWaitForConditionWakesOnNotify(t *testing.T) {
	tt := NewTickTimer()
	const index = 1

	r := tt.BlockingScalar(0, opWaitForCondition, [4]uint32{index, 0})
	if r.Kind != ScalarAsync {
		t.Fatalf("expected ScalarAsync, got %v", r.Kind)
	}

	// Give the waiter goroutine time to register itself before notifying.
	time.Sleep(5 * time.Millisecond)
	notify := tt.BlockingScalar(0, opNotifyCondition, [4]uint32{index, 1})
	if notify.Kind != ScalarOne || notify.Values[0] != 1 {
		t.Fatalf("expected one waiter notified, got %+v", notify)
	}

	select {
	case result := <-r.Pause:
		if result.Regs[1] != 0 {
			t.Fatalf("expected a non-timeout wakeup, got regs=%v", result.Regs)
		}
	case <-time.After(time.Second):
		t.Fatal("notified waiter never woke up")
	}
}

func TestTickTimerWaitForConditionTimesOut(t *testing.T) {
	tt := NewTickTimer()
	r := tt.BlockingScalar(0, opWaitForCondition, [4]uint32{2, 1})
	if r.Kind != ScalarAsync {
		t.Fatalf("expected ScalarAsync, got %v", r.Kind)
	}
	select {
	case result := <-r.Pause:
		if result.Regs[1] != 1 {
			t.Fatalf("expected a timeout wakeup, got regs=%v", result.Regs)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never timed out")
	}
}
