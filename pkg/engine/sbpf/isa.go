package sbpf

import "github.com/spaolacci/murmur3"

// Instruction classes (bits 0-2).
const (
	ClassLd    = 0x00
	ClassLdx   = 0x01
	ClassSt    = 0x02
	ClassStx   = 0x03
	ClassAlu   = 0x04
	ClassJmp   = 0x05
	ClassJmp32 = 0x06
	ClassAlu64 = 0x07
)

// Operand source (bit 3).
const (
	SrcK = 0x00 // immediate
	SrcX = 0x08 // register
)

// ALU operations (bits 4-7).
const (
	AluAdd  = 0x00
	AluSub  = 0x10
	AluMul  = 0x20
	AluDiv  = 0x30
	AluOr   = 0x40
	AluAnd  = 0x50
	AluLsh  = 0x60
	AluRsh  = 0x70
	AluNeg  = 0x80
	AluMod  = 0x90
	AluXor  = 0xa0
	AluMov  = 0xb0
	AluArsh = 0xc0
)

// Access sizes (bits 3-4 of loads and stores).
const (
	SizeW  = 0x00
	SizeH  = 0x08
	SizeB  = 0x10
	SizeDW = 0x18
)

// ModeMem is the only addressing mode this machine accepts for loads and
// stores; ModeImm is used by lddw.
const (
	ModeImm = 0x00
	ModeMem = 0x60
)

// Jump operations (bits 4-7).
const (
	JmpJa   = 0x00
	JmpJeq  = 0x10
	JmpJgt  = 0x20
	JmpJge  = 0x30
	JmpJset = 0x40
	JmpJne  = 0x50
	JmpJsgt = 0x60
	JmpJsge = 0x70
	JmpCall = 0x80
	JmpExit = 0x90
	JmpJlt  = 0xa0
	JmpJle  = 0xb0
	JmpJslt = 0xc0
	JmpJsle = 0xd0
)

// Opcodes with dedicated handling.
const (
	OpLddw = ClassLd | ModeImm | SizeDW // 0x18, two slots
	OpCall = ClassJmp | JmpCall         // 0x85
	OpExit = ClassJmp | JmpExit         // 0x95
)

// Register numbers. R10 is the read-only frame pointer.
const (
	R0 uint8 = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	NumRegisters
)

// Per-instruction cost units. The interpreter burns cost times
// gas.ExecMilligasPerUnit milligas per instruction.
const (
	CostALU   = int64(1)
	CostMul   = int64(4)
	CostDiv   = int64(12)
	CostLoad  = int64(2)
	CostStore = int64(2)
	CostLddw  = int64(2)
	CostJump  = int64(1)
	CostCall  = int64(5)
	CostExit  = int64(1)
)

func instructionCost(op uint8) int64 {
	switch op & 0x07 {
	case ClassAlu, ClassAlu64:
		switch op & 0xf0 {
		case AluMul:
			return CostMul
		case AluDiv, AluMod:
			return CostDiv
		}
		return CostALU
	case ClassLd:
		return CostLddw
	case ClassLdx:
		return CostLoad
	case ClassSt, ClassStx:
		return CostStore
	default:
		switch op & 0xf0 {
		case JmpCall:
			return CostCall
		case JmpExit:
			return CostExit
		}
		return CostJump
	}
}

// Instruction is one encoded 64-bit instruction slot.
type Instruction uint64

func (i Instruction) Op() uint8    { return uint8(i) }
func (i Instruction) Dst() uint8   { return uint8(i>>8) & 0x0f }
func (i Instruction) Src() uint8   { return uint8(i>>12) & 0x0f }
func (i Instruction) Off() int16   { return int16(i >> 16) }
func (i Instruction) Imm() int32   { return int32(i >> 32) }
func (i Instruction) Uimm() uint32 { return uint32(i >> 32) }

// Encode packs instruction fields.
func Encode(op, dst, src uint8, off int16, imm int32) Instruction {
	return Instruction(uint64(op) |
		uint64(dst&0x0f)<<8 |
		uint64(src&0x0f)<<12 |
		uint64(uint16(off))<<16 |
		uint64(uint32(imm))<<32)
}

// ImportHash is the call immediate that dispatches to module.name.
func ImportHash(module, name string) uint32 {
	return murmur3.Sum32([]byte(module + "." + name))
}
