package machine

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/betrusted-io/yove/internal/emu"
)

// Loaded is the state LoadProgram hands back: the entry hart, ready to
// tick, with the .eh_frame and argument-block addresses already in a0/a1.
type Loaded struct {
	Hart *emu.Hart
}

// LoadProgram parses an ELF32 image, maps its SHF_ALLOC sections, builds
// the AppP/EnvB/ArgL argument block at the top of the stack, and returns
// a hart whose state is exactly the process entry state of spec.md §6:
// satp/mstatus/sepc set, SRET executed to drop to User mode, sp/a0/a1
// populated. Grounded on
// original_source/src/xous.rs::Machine::load_program; uses the standard
// library's debug/elf rather than goblin, matching the teacher's own
// internal/linux/boot/amd64/elf.go choice of stdlib over a third-party
// ELF parser.
func LoadProgram(m *Machine, bridge emu.SyscallBridge, program []byte, argv []string) (*Loaded, error) {
	f, err := elf.NewFile(bytes.NewReader(program))
	if err != nil {
		return nil, fmt.Errorf("parse elf: %w", err)
	}
	defer f.Close()

	if f.Class == elf.ELFCLASS64 {
		return nil, fmt.Errorf("parse elf: 64-bit images are not supported")
	}

	var ehFrameAddr uint32
	for _, sh := range f.Sections {
		if sh.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		if sh.Name == ".eh_frame" {
			ehFrameAddr = uint32(sh.Addr)
		}
		if sh.Type == elf.SHT_NOBITS {
			m.ensureRange(uint32(sh.Addr), uint32(sh.Size))
			continue
		}
		data, err := sh.Data()
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", sh.Name, err)
		}
		m.writeBytes(uint32(sh.Addr), data)
	}

	paramBlock := buildParamBlock(argv)
	paramBlockStart := StackEnd - uint32(len(paramBlock))
	m.writeBytes(paramBlockStart, paramBlock)
	m.ensureRange(StackStart, StackEnd-StackStart)

	h := emu.NewHart(0, m.mem, bridge)
	enterUser(h, m.satp, uint32(f.Entry))

	sp := (StackEnd - 16 - uint32(len(paramBlock))) &^ 0xf
	h.WriteX(2, sp)
	h.WriteX(10, ehFrameAddr)
	h.WriteX(11, paramBlockStart)

	return &Loaded{Hart: h}, nil
}

var (
	envMagic    = [4]byte{'E', 'n', 'v', 'B'}
	argsMagic   = [4]byte{'A', 'r', 'g', 'L'}
	paramsMagic = [4]byte{'A', 'p', 'p', 'P'}
)

// buildParamBlock builds the AppP/EnvB/ArgL argument block spec.md §6
// describes, copying every host environment variable (matching the
// original's behavior of forwarding its own process environment
// wholesale) and the already--split argv the caller computed.
func buildParamBlock(argv []string) []byte {
	envTag := buildEnvTag()
	argTag := buildArgTag(argv)

	var params bytes.Buffer
	params.Write(paramsMagic[:])
	binary.Write(&params, binary.LittleEndian, uint32(8))
	binary.Write(&params, binary.LittleEndian, uint32(envTag.Len()+argTag.Len()+16))
	binary.Write(&params, binary.LittleEndian, uint32(3))

	var out bytes.Buffer
	out.Write(params.Bytes())
	out.Write(envTag.Bytes())
	out.Write(argTag.Bytes())
	return out.Bytes()
}

func buildEnvTag() *bytes.Buffer {
	var data bytes.Buffer
	env := os.Environ()
	binary.Write(&data, binary.LittleEndian, uint16(len(env)))
	for _, kv := range env {
		key, value, _ := splitEnv(kv)
		binary.Write(&data, binary.LittleEndian, uint16(len(key)))
		data.WriteString(key)
		binary.Write(&data, binary.LittleEndian, uint16(len(value)))
		data.WriteString(value)
	}

	var tag bytes.Buffer
	tag.Write(envMagic[:])
	binary.Write(&tag, binary.LittleEndian, uint32(data.Len()))
	tag.Write(data.Bytes())
	return &tag
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

func buildArgTag(argv []string) *bytes.Buffer {
	size := 2
	for _, a := range argv {
		size += 2 + len(a)
	}

	var tag bytes.Buffer
	tag.Write(argsMagic[:])
	binary.Write(&tag, binary.LittleEndian, uint32(size))
	binary.Write(&tag, binary.LittleEndian, uint16(len(argv)))
	for _, a := range argv {
		binary.Write(&tag, binary.LittleEndian, uint16(len(a)))
		tag.WriteString(a)
	}
	return &tag
}

// SplitArgv implements spec.md §6's rule for deriving guest argv from the
// host command line: everything after the first "--" if present,
// otherwise args unchanged. Callers pass the arguments that follow the
// emulator's own name and flags, so without "--" the ELF path is the
// guest's first argument.
func SplitArgv(args []string) []string {
	for i, a := range args {
		if a == "--" {
			return append([]string{}, args[i+1:]...)
		}
	}
	return args
}
