package services

import (
	"fmt"
	"os"
)

const panicToScreenOpAppendText = 0

// PanicToScreen is a trivial text sink the name service spawns on demand
// for the guest's panic handler. Grounded on
// original_source/src/xous/services/panic_to_screen.rs. The original
// writes to stdout (println!); this prints to stderr instead, since a
// panic sink that competes with ordinary program output on the same
// stream is more surprising than useful.
type PanicToScreen struct{ Unimplemented }

func NewPanicToScreen() *PanicToScreen {
	return &PanicToScreen{Unimplemented{Name: "panic-to-screen!"}}
}

func (p *PanicToScreen) LendMutable(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	if opcode != panicToScreenOpAppendText {
		panic("services: unhandled panic-to-screen opcode")
	}
	n := int(extra[1])
	if n > len(buf) {
		n = len(buf)
	}
	text := string(buf[:n])
	fmt.Fprintf(os.Stderr, "Panic to screen: %s\n", text)
	return syncLend(0, 0)
}
