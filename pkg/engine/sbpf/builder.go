package sbpf

import (
	"fmt"
)

// Arg is a host call argument: a register or an immediate.
type Arg struct {
	reg   uint8
	imm   uint64
	isReg bool
}

// Reg passes a register's value.
func Reg(r uint8) Arg { return Arg{reg: r, isReg: true} }

// Imm passes a constant.
func Imm(v uint64) Arg { return Arg{imm: v} }

type fixup struct {
	at    int
	label string
	call  bool
}

// Builder assembles modules instruction by instruction. Jump and call
// targets are named labels resolved by Build.
type Builder struct {
	text    []uint64
	data    []byte
	entries map[string]uint64
	labels  map[string]int
	fixups  []fixup
	err     error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		entries: make(map[string]uint64),
		labels:  make(map[string]int),
	}
}

func (b *Builder) emit(ins Instruction) *Builder {
	b.text = append(b.text, uint64(ins))
	return b
}

func (b *Builder) fail(format string, args ...any) *Builder {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b
}

// PC returns the index of the next instruction.
func (b *Builder) PC() int {
	return len(b.text)
}

// Entrypoint exports the next instruction under name.
func (b *Builder) Entrypoint(name string) *Builder {
	if _, ok := b.entries[name]; ok {
		return b.fail("duplicate entrypoint %q", name)
	}
	b.entries[name] = uint64(len(b.text))
	return b
}

// Label names the next instruction.
func (b *Builder) Label(name string) *Builder {
	if _, ok := b.labels[name]; ok {
		return b.fail("duplicate label %q", name)
	}
	b.labels[name] = len(b.text)
	return b
}

// Data appends bytes to the data segment and returns their address.
// Entries are 8-byte aligned.
func (b *Builder) Data(d []byte) uint64 {
	for len(b.data)%8 != 0 {
		b.data = append(b.data, 0)
	}
	off := uint64(len(b.data))
	b.data = append(b.data, d...)
	return off
}

// Mov sets dst to a sign-extended immediate.
func (b *Builder) Mov(dst uint8, imm int32) *Builder {
	return b.emit(Encode(ClassAlu64|SrcK|AluMov, dst, 0, 0, imm))
}

// MovReg copies src into dst.
func (b *Builder) MovReg(dst, src uint8) *Builder {
	return b.emit(Encode(ClassAlu64|SrcX|AluMov, dst, src, 0, 0))
}

// Lddw loads a 64-bit constant.
func (b *Builder) Lddw(dst uint8, v uint64) *Builder {
	b.emit(Encode(OpLddw, dst, 0, 0, int32(uint32(v))))
	return b.emit(Encode(0, 0, 0, 0, int32(uint32(v>>32))))
}

// Alu applies a 64-bit ALU op with an immediate operand.
func (b *Builder) Alu(op, dst uint8, imm int32) *Builder {
	return b.emit(Encode(ClassAlu64|SrcK|op, dst, 0, 0, imm))
}

// AluReg applies a 64-bit ALU op with a register operand.
func (b *Builder) AluReg(op, dst, src uint8) *Builder {
	return b.emit(Encode(ClassAlu64|SrcX|op, dst, src, 0, 0))
}

// Alu32 applies a 32-bit ALU op with an immediate operand.
func (b *Builder) Alu32(op, dst uint8, imm int32) *Builder {
	return b.emit(Encode(ClassAlu|SrcK|op, dst, 0, 0, imm))
}

// Load reads size bytes at src+off into dst.
func (b *Builder) Load(size, dst, src uint8, off int16) *Builder {
	return b.emit(Encode(ClassLdx|ModeMem|size, dst, src, off, 0))
}

// Store writes size bytes of src to dst+off.
func (b *Builder) Store(size, dst uint8, off int16, src uint8) *Builder {
	return b.emit(Encode(ClassStx|ModeMem|size, dst, src, off, 0))
}

// StoreImm writes size bytes of an immediate to dst+off.
func (b *Builder) StoreImm(size, dst uint8, off int16, imm int32) *Builder {
	return b.emit(Encode(ClassSt|ModeMem|size, dst, 0, off, imm))
}

func (b *Builder) jump(ins Instruction, label string, call bool) *Builder {
	b.fixups = append(b.fixups, fixup{at: len(b.text), label: label, call: call})
	return b.emit(ins)
}

// Jump jumps unconditionally.
func (b *Builder) Jump(label string) *Builder {
	return b.jump(Encode(ClassJmp|JmpJa, 0, 0, 0, 0), label, false)
}

// JumpIf jumps when dst cond imm holds.
func (b *Builder) JumpIf(cond, dst uint8, imm int32, label string) *Builder {
	return b.jump(Encode(ClassJmp|SrcK|cond, dst, 0, 0, imm), label, false)
}

// JumpIfReg jumps when dst cond src holds.
func (b *Builder) JumpIfReg(cond, dst, src uint8, label string) *Builder {
	return b.jump(Encode(ClassJmp|SrcX|cond, dst, src, 0, 0), label, false)
}

// CallLocal calls a function inside the module.
func (b *Builder) CallLocal(label string) *Builder {
	return b.jump(Encode(OpCall, 0, 1, 0, 0), label, true)
}

// Exit returns R0 from the current function.
func (b *Builder) Exit() *Builder {
	return b.emit(Encode(OpExit, 0, 0, 0, 0))
}

// HostCall calls module.name. Arguments are spilled below the frame
// pointer; R1 and R2 are clobbered and the result is left in R0.
func (b *Builder) HostCall(module, name string, args ...Arg) *Builder {
	n := len(args)
	if n > MaxImportArgs {
		return b.fail("%s.%s: %d arguments", module, name, n)
	}
	slot := func(i int) int16 { return int16(-8 * (n - i)) }
	for i, a := range args {
		if a.isReg {
			b.Store(SizeDW, R10, slot(i), a.reg)
		}
	}
	for i, a := range args {
		if !a.isReg {
			b.Lddw(R1, a.imm)
			b.Store(SizeDW, R10, slot(i), R1)
		}
	}
	b.MovReg(R1, R10)
	b.Alu(AluAdd, R1, int32(-8*n))
	b.Mov(R2, int32(n))
	return b.emit(Encode(OpCall, 0, 0, 0, int32(ImportHash(module, name))))
}

// Build resolves labels and returns the module.
func (b *Builder) Build() (*Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.text) == 0 {
		return nil, invalid("empty text")
	}
	text := append([]uint64(nil), b.text...)
	for _, f := range b.fixups {
		target, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		rel := target - (f.at + 1)
		ins := Instruction(text[f.at])
		if f.call {
			ins = Encode(ins.Op(), ins.Dst(), ins.Src(), ins.Off(), int32(rel))
		} else {
			if rel < -32768 || rel > 32767 {
				return nil, fmt.Errorf("jump to %q out of range", f.label)
			}
			ins = Encode(ins.Op(), ins.Dst(), ins.Src(), int16(rel), ins.Imm())
		}
		text[f.at] = uint64(ins)
	}
	entries := make(map[string]uint64, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	return &Module{
		Entrypoints: entries,
		Data:        append([]byte(nil), b.data...),
		Text:        text,
	}, nil
}

// MustBuild is Build for statically known programs.
func (b *Builder) MustBuild() *Module {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
