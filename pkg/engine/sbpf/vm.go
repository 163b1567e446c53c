// Package sbpf runs actor bytecode.
//
// The instruction set is eBPF-style: 11 64-bit registers (R0-R10, R10 is
// the read-only frame pointer) and 64-bit instruction slots. Unlike eBPF the
// machine has a single linear memory starting at address 0. The module's
// data segment is copied to offset 0 and stack frames are carved downward
// from the top of memory.
//
// Every instruction burns its cost from the instance's gas register before
// it executes. The register is the only meter inside the sandbox; the host
// reconciles it with its own ledger at syscall boundaries.
//
// "call imm" with src=0 dispatches to a host import whose ImportHash equals
// imm. R1 points at a vector of R2 little-endian u64 arguments and the
// result lands in R0. "call imm" with src=1 is a relative call within the
// module.
package sbpf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/actorvm/pkg/engine"
	"github.com/fortiblox/actorvm/pkg/gas"
)

// Stack layout.
const (
	StackFrameSize = 4096
	MaxFrames      = 16
	StackSize      = StackFrameSize * MaxFrames

	// MaxImportArgs bounds the argument vector of a host call.
	MaxImportArgs = 16
)

var (
	ErrMemoryAccess       = errors.New("invalid memory access")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrCallDepthExceeded  = errors.New("call depth exceeded")
	ErrDivisionByZero     = errors.New("division by zero")
)

type frame struct {
	saved [4]uint64 // R6-R9
	fp    uint64
	ret   int64
}

type vm struct {
	text    []uint64
	mem     []byte
	gas     *engine.GasRegister
	imports map[uint32]engine.HostFunc
	frames  []frame
}

func (v *vm) trap(pc int64, format string, args ...any) error {
	return &engine.Trap{Reason: fmt.Sprintf(format, args...), PC: uint64(pc)}
}

func (v *vm) slice(addr, size uint64) ([]byte, error) {
	end := addr + size
	if end < addr || end > uint64(len(v.mem)) {
		return nil, fmt.Errorf("%w: [0x%x, +%d) outside memory of %d bytes", ErrMemoryAccess, addr, size, len(v.mem))
	}
	return v.mem[addr:end], nil
}

func (v *vm) load(addr uint64, size uint8) (uint64, error) {
	switch size {
	case SizeB:
		b, err := v.slice(addr, 1)
		if err != nil {
			return 0, err
		}
		return uint64(b[0]), nil
	case SizeH:
		b, err := v.slice(addr, 2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case SizeW:
		b, err := v.slice(addr, 4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		b, err := v.slice(addr, 8)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b), nil
	}
}

func (v *vm) store(addr uint64, size uint8, x uint64) error {
	switch size {
	case SizeB:
		b, err := v.slice(addr, 1)
		if err != nil {
			return err
		}
		b[0] = uint8(x)
	case SizeH:
		b, err := v.slice(addr, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(b, uint16(x))
	case SizeW:
		b, err := v.slice(addr, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, uint32(x))
	default:
		b, err := v.slice(addr, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b, x)
	}
	return nil
}

func alu64(code uint8, a, b uint64) (uint64, error) {
	switch code {
	case AluAdd:
		return a + b, nil
	case AluSub:
		return a - b, nil
	case AluMul:
		return a * b, nil
	case AluDiv:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case AluMod:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	case AluOr:
		return a | b, nil
	case AluAnd:
		return a & b, nil
	case AluXor:
		return a ^ b, nil
	case AluLsh:
		return a << (b & 63), nil
	case AluRsh:
		return a >> (b & 63), nil
	case AluArsh:
		return uint64(int64(a) >> (b & 63)), nil
	case AluNeg:
		return uint64(-int64(a)), nil
	case AluMov:
		return b, nil
	}
	return 0, fmt.Errorf("%w: alu op 0x%02x", ErrInvalidInstruction, code)
}

func alu32(code uint8, a, b uint32) (uint32, error) {
	switch code {
	case AluAdd:
		return a + b, nil
	case AluSub:
		return a - b, nil
	case AluMul:
		return a * b, nil
	case AluDiv:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case AluMod:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	case AluOr:
		return a | b, nil
	case AluAnd:
		return a & b, nil
	case AluXor:
		return a ^ b, nil
	case AluLsh:
		return a << (b & 31), nil
	case AluRsh:
		return a >> (b & 31), nil
	case AluArsh:
		return uint32(int32(a) >> (b & 31)), nil
	case AluNeg:
		return uint32(-int32(a)), nil
	case AluMov:
		return b, nil
	}
	return 0, fmt.Errorf("%w: alu32 op 0x%02x", ErrInvalidInstruction, code)
}

func taken(code uint8, a, b uint64, wide bool) (bool, error) {
	if !wide {
		a, b = uint64(uint32(a)), uint64(uint32(b))
	}
	sa, sb := int64(a), int64(b)
	if !wide {
		sa, sb = int64(int32(a)), int64(int32(b))
	}
	switch code {
	case JmpJeq:
		return a == b, nil
	case JmpJne:
		return a != b, nil
	case JmpJgt:
		return a > b, nil
	case JmpJge:
		return a >= b, nil
	case JmpJlt:
		return a < b, nil
	case JmpJle:
		return a <= b, nil
	case JmpJset:
		return a&b != 0, nil
	case JmpJsgt:
		return sa > sb, nil
	case JmpJsge:
		return sa >= sb, nil
	case JmpJslt:
		return sa < sb, nil
	case JmpJsle:
		return sa <= sb, nil
	}
	return false, fmt.Errorf("%w: jump op 0x%02x", ErrInvalidInstruction, code)
}

func (v *vm) hostCall(hash uint32, argv, argc uint64) (uint64, error) {
	fn, ok := v.imports[hash]
	if !ok {
		return 0, fmt.Errorf("%w: 0x%08x", engine.ErrUnknownImport, hash)
	}
	if argc > MaxImportArgs {
		return 0, fmt.Errorf("%w: %d import arguments", ErrInvalidInstruction, argc)
	}
	raw, err := v.slice(argv, argc*8)
	if err != nil {
		return 0, err
	}
	args := make([]uint64, argc)
	for i := range args {
		args[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return fn(args)
}

// run executes from entry until the outermost frame exits. Errors returned
// by host functions and gas exhaustion are passed through unwrapped.
func (v *vm) run(entry uint64, r1 uint64) (uint64, error) {
	var r [NumRegisters]uint64
	r[R1] = r1
	r[R10] = uint64(len(v.mem))
	v.frames = v.frames[:0]
	floor := uint64(len(v.mem)) - StackSize

	pc := int64(entry)
	for {
		if pc < 0 || pc >= int64(len(v.text)) {
			return 0, v.trap(pc, "program counter out of bounds")
		}
		ins := Instruction(v.text[pc])
		op, dst, src := ins.Op(), ins.Dst(), ins.Src()

		if err := v.gas.Burn(instructionCost(op) * gas.ExecMilligasPerUnit); err != nil {
			return 0, err
		}
		if dst >= NumRegisters || src >= NumRegisters {
			return 0, v.trap(pc, "%v: register r%d/r%d", ErrInvalidInstruction, dst, src)
		}

		class := op & 0x07
		switch class {
		case ClassAlu, ClassAlu64:
			if dst == R10 {
				return 0, v.trap(pc, "write to frame pointer")
			}
			operand := uint64(int64(ins.Imm()))
			if op&SrcX != 0 {
				operand = r[src]
			}
			if class == ClassAlu64 {
				res, err := alu64(op&0xf0, r[dst], operand)
				if err != nil {
					return 0, v.trap(pc, "%v", err)
				}
				r[dst] = res
			} else {
				res, err := alu32(op&0xf0, uint32(r[dst]), uint32(operand))
				if err != nil {
					return 0, v.trap(pc, "%v", err)
				}
				r[dst] = uint64(res)
			}

		case ClassLd:
			if op != OpLddw || pc+1 >= int64(len(v.text)) || dst == R10 {
				return 0, v.trap(pc, "%v: bad lddw", ErrInvalidInstruction)
			}
			hi := Instruction(v.text[pc+1]).Uimm()
			r[dst] = uint64(ins.Uimm()) | uint64(hi)<<32
			pc++

		case ClassLdx:
			if op&0xe0 != ModeMem || dst == R10 {
				return 0, v.trap(pc, "%v: load 0x%02x", ErrInvalidInstruction, op)
			}
			x, err := v.load(r[src]+uint64(int64(ins.Off())), op&0x18)
			if err != nil {
				return 0, v.trap(pc, "%v", err)
			}
			r[dst] = x

		case ClassSt, ClassStx:
			if op&0xe0 != ModeMem {
				return 0, v.trap(pc, "%v: store 0x%02x", ErrInvalidInstruction, op)
			}
			x := uint64(int64(ins.Imm()))
			if class == ClassStx {
				x = r[src]
			}
			if err := v.store(r[dst]+uint64(int64(ins.Off())), op&0x18, x); err != nil {
				return 0, v.trap(pc, "%v", err)
			}

		case ClassJmp, ClassJmp32:
			code := op & 0xf0
			switch {
			case op == OpCall && src == 0:
				res, err := v.hostCall(ins.Uimm(), r[R1], r[R2])
				if err != nil {
					return 0, err
				}
				r[R0] = res

			case op == OpCall && src == 1:
				if len(v.frames) >= MaxFrames-1 || r[R10]-StackFrameSize < floor {
					return 0, v.trap(pc, "%v", ErrCallDepthExceeded)
				}
				f := frame{fp: r[R10], ret: pc + 1}
				copy(f.saved[:], r[R6:R10])
				v.frames = append(v.frames, f)
				r[R10] -= StackFrameSize
				pc += int64(ins.Imm()) + 1
				continue

			case op == OpExit:
				if len(v.frames) == 0 {
					return r[R0], nil
				}
				f := v.frames[len(v.frames)-1]
				v.frames = v.frames[:len(v.frames)-1]
				copy(r[R6:R10], f.saved[:])
				r[R10] = f.fp
				pc = f.ret
				continue

			case code == JmpJa && class == ClassJmp:
				pc += int64(ins.Off())

			default:
				operand := uint64(int64(ins.Imm()))
				if op&SrcX != 0 {
					operand = r[src]
				}
				ok, err := taken(code, r[dst], operand, class == ClassJmp)
				if err != nil {
					return 0, v.trap(pc, "%v", err)
				}
				if ok {
					pc += int64(ins.Off())
				}
			}
		}
		pc++
	}
}
