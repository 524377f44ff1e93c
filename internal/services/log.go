package services

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Log message opcodes, grounded on
// original_source/src/xous/services/log.rs's LendOpcode/ScalarOpcode.
const (
	logOpRecord         = 0
	logOpStandardOutput = 1
	logOpStandardError  = 2

	logOpPanicStarted  = 1000
	logOpPanicMessage0 = 1100
	logOpPanicMessage32 = 1132
	logOpPanicFinished  = 1200
)

// Log is the guest-facing structured logger and stdout/stderr passthrough
// endpoint, serving the guest; the emulator's own diagnostics are written
// to stderr with fmt and do not go through it.
type Log struct {
	Unimplemented

	out, err *bufio.Writer
	panicBuf []byte
}

// NewLog detects whether stdout is a terminal (golang.org/x/term) to pick
// the writers' buffer size: 1 byte on a tty, 4096 bytes otherwise. Every
// write path flushes before returning, so output is never held back
// between calls in either case.
func NewLog() *Log {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	size := 4096
	if isTTY {
		size = 0
	}
	l := &Log{Unimplemented: Unimplemented{Name: "log"}}
	if size == 0 {
		l.out = bufio.NewWriterSize(os.Stdout, 1)
		l.err = bufio.NewWriterSize(os.Stderr, 1)
	} else {
		l.out = bufio.NewWriterSize(os.Stdout, size)
		l.err = bufio.NewWriterSize(os.Stderr, size)
	}
	return l
}

func logString(buf []byte, offset int) string {
	if offset+4 > len(buf) {
		return ""
	}
	n := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
	start := offset + 4
	if start+n > len(buf) || n < 0 {
		return "<invalid>"
	}
	return string(buf[start : start+n])
}

// logRecord wire format, fixed byte offsets per
// original_source/src/xous/services/log.rs::log_record.
func (l *Log) logRecord(buf []byte) LendResult {
	filename := logString(buf, 0)
	var lineNum uint32
	if len(buf) >= 136 {
		lineNum = binary.LittleEndian.Uint32(buf[132:136])
	}
	module := logString(buf, 136)
	args := logString(buf, 272)

	level := "UNKNOWN"
	if len(buf) >= 272 {
		switch binary.LittleEndian.Uint32(buf[268:272]) {
		case 1:
			level = "ERR "
		case 2:
			level = "WARN"
		case 3:
			level = "INFO"
		case 4:
			level = "DBG "
		case 5:
			level = "TRCE"
		}
	}

	fmt.Fprintf(l.out, "%s:%s %s (%s:%d)\n", level, module, args, filename, lineNum)
	l.out.Flush()
	return syncLend(0, 0)
}

func (l *Log) Scalar(sender, opcode uint32, args [4]uint32) {
	switch {
	case opcode == logOpPanicStarted:
		fmt.Fprintln(l.out, "Panic started")
		l.out.Flush()
	case opcode == logOpPanicFinished:
		fmt.Fprintln(l.err, string(l.panicBuf))
		l.err.Flush()
		l.panicBuf = nil
	case opcode >= logOpPanicMessage0 && opcode <= logOpPanicMessage32:
		n := int(opcode - logOpPanicMessage0)
		var chunk [16]byte
		for i, v := range args {
			binary.LittleEndian.PutUint32(chunk[i*4:], v)
		}
		if n > len(chunk) {
			n = len(chunk)
		}
		l.panicBuf = append(l.panicBuf, chunk[:n]...)
	default:
		fmt.Fprintf(l.out, "Log scalar %d: %d %v\n", sender, opcode, args)
		l.out.Flush()
	}
}

func (l *Log) Lend(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	return l.writeOrRecord(opcode, buf, extra)
}
func (l *Log) LendMutable(sender, opcode uint32, buf []byte, extra [2]uint32) LendResult {
	return l.writeOrRecord(opcode, buf, extra)
}

func (l *Log) writeOrRecord(opcode uint32, buf []byte, extra [2]uint32) LendResult {
	switch opcode {
	case logOpRecord:
		return l.logRecord(buf)
	case logOpStandardOutput:
		return l.passthrough(l.out, buf, extra)
	case logOpStandardError:
		return l.passthrough(l.err, buf, extra)
	default:
		panic("services: unhandled log lend opcode")
	}
}

func (l *Log) passthrough(w *bufio.Writer, buf []byte, extra [2]uint32) LendResult {
	n := int(extra[1])
	if n > len(buf) {
		n = len(buf)
	}
	io.Writer(w).Write(buf[:n])
	w.Flush()
	return syncLend(0, 0)
}

func (l *Log) Send(sender, opcode uint32, buf []byte, extra [2]uint32) {}
