package services

import (
	"sync"
	"time"

	"github.com/betrusted-io/yove/internal/emu"
)

// ticktimerScalarOpcode mirrors
// original_source/src/xous/services/ticktimer.rs's ScalarOpcode.
const (
	opElapsedMs        = 0
	opWaitForCondition = 8
	opNotifyCondition  = 9
	opFreeCondition    = 11
)

// condition is a condvar keyed by a guest-chosen integer, plus a count of
// harts currently waiting on it (the original's `AtomicUsize` paired with
// the Condvar).
type condition struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiting int
}

// TickTimer implements ElapsedMs and a guest-visible condition-variable
// primitive (WaitForCondition/NotifyCondition/FreeCondition). Grounded on
// original_source/src/xous/services/ticktimer.rs.
type TickTimer struct {
	Unimplemented

	start time.Time

	mu         sync.Mutex
	conditions map[uint32]*condition
}

func NewTickTimer() *TickTimer {
	return &TickTimer{
		Unimplemented: Unimplemented{Name: "ticktimer"},
		start:         time.Now(),
		conditions:    make(map[uint32]*condition),
	}
}

func (t *TickTimer) Scalar(sender, opcode uint32, args [4]uint32) {
	if opcode != opFreeCondition {
		return
	}
	t.mu.Lock()
	delete(t.conditions, args[0])
	t.mu.Unlock()
}

func (t *TickTimer) condFor(index uint32) *condition {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conditions[index]
	if !ok {
		c = &condition{}
		c.cond = sync.NewCond(&c.mu)
		t.conditions[index] = c
	}
	return c
}

func (t *TickTimer) BlockingScalar(sender, opcode uint32, args [4]uint32) ScalarResult {
	switch opcode {
	case opElapsedMs:
		ms := uint64(time.Since(t.start).Milliseconds())
		return ScalarResult{Kind: ScalarTwo, Values: [5]uint32{uint32(ms), uint32(ms >> 32)}}

	case opWaitForCondition:
		index, waitCount := args[0], args[1]
		c := t.condFor(index)

		ch := make(chan emu.PauseResult, 1)
		c.mu.Lock()
		c.waiting++
		c.mu.Unlock()

		// A zero waitCount leaves deadline as the zero Time: wait with no
		// timeout. With a deadline, a wakeup before it counts as a
		// notification and a wakeup at or after it counts as a timeout.
		var deadline time.Time
		if waitCount != 0 {
			deadline = time.Now().Add(time.Duration(waitCount) * time.Millisecond)
		}

		go func() {
			c.mu.Lock()
			timedOut := false
			for {
				if deadline.IsZero() {
					c.cond.Wait()
					break
				}
				remaining := time.Until(deadline)
				if remaining <= 0 {
					timedOut = true
					break
				}
				timer := time.AfterFunc(remaining, func() {
					c.mu.Lock()
					c.cond.Broadcast()
					c.mu.Unlock()
				})
				c.cond.Wait()
				timer.Stop()
				if time.Now().Before(deadline) {
					break
				}
				timedOut = true
				break
			}
			c.waiting--
			c.mu.Unlock()

			var regs [8]uint32
			regs[0] = resultScalar1
			if timedOut {
				regs[1] = 1
			}
			ch <- emu.PauseResult{Regs: regs}
		}()
		return ScalarResult{Kind: ScalarAsync, Pause: ch}

	case opNotifyCondition:
		index, count := args[0], args[1]
		t.mu.Lock()
		c, ok := t.conditions[index]
		t.mu.Unlock()
		if !ok || count == 0 {
			return ScalarResult{Kind: ScalarFive}
		}
		c.mu.Lock()
		notified := 0
		for i := uint32(0); i < count; i++ {
			c.cond.Signal()
			notified++
		}
		c.mu.Unlock()
		return ScalarResult{Kind: ScalarOne, Values: [5]uint32{uint32(notified)}}

	default:
		panic("services: unhandled ticktimer blocking_scalar")
	}
}

func (t *TickTimer) Lend(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	return syncLend(0, 0)
}
func (t *TickTimer) LendMutable(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	return syncLend(0, 0)
}
func (t *TickTimer) Send(sender, opcode uint32, buf []byte, extra [2]uint32) {}

// resultScalar1 is the outer SyscallResultNumber::Scalar1 tag the timeout
// notification is wrapped in, matching the wire shape of a normal
// blocking_scalar reply delivered asynchronously.
const resultScalar1 = 14
