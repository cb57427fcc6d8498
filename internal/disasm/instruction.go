package disasm

import (
	"fmt"
	"strings"
)

// Prefix is a bit set of the prefixes accumulated before the opcode.
type Prefix uint8

const (
	// PrefixRexB extends the ModRM r/m (or opcode register) field.
	PrefixRexB Prefix = 1 << iota
	// PrefixRexW selects 64-bit operand size.
	PrefixRexW
)

func (p Prefix) String() string {
	var names []string
	if p&PrefixRexB != 0 {
		names = append(names, "rex.b")
	}
	if p&PrefixRexW != 0 {
		names = append(names, "rex.w")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// OperandKind is the encoded width of a displacement, immediate or relative
// branch operand.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	Kind8
	Kind32
	Kind64
)

// Size returns the number of bytes the operand occupies in the encoding.
func (k OperandKind) Size() int {
	switch k {
	case Kind8:
		return 1
	case Kind32:
		return 4
	case Kind64:
		return 8
	default:
		return 0
	}
}

func (k OperandKind) String() string {
	switch k {
	case Kind8:
		return "8"
	case Kind32:
		return "32"
	case Kind64:
		return "64"
	default:
		return "none"
	}
}

// Operand is a sign-extended displacement, immediate or branch offset.
// Offset is the position of its first byte inside the instruction.
type Operand struct {
	Kind   OperandKind
	Value  int64
	Offset int
}

// Present reports whether the operand was encoded.
func (o Operand) Present() bool {
	return o.Kind != KindNone
}

// ModRM holds the decoded fields of a ModRM byte.
type ModRM struct {
	Mod uint8
	Reg uint8
	RM  uint8
}

// SIB holds the decoded fields of a scale-index-base byte.
type SIB struct {
	Scale uint8
	Index uint8
	Base  uint8
}

// Instruction is one fully decoded instruction.
//
// Len is authoritative: it always equals the number of bytes consumed by the
// prefix, opcode, ModRM, SIB, displacement and immediate parsers together.
type Instruction struct {
	Addr     uint64
	Len      int
	Mnemonic string
	Prefixes Prefix
	Opcode   []byte

	ModRM    ModRM
	HasModRM bool
	SIB      SIB
	HasSIB   bool

	Disp Operand
	Imm  Operand
	Rel  Operand

	Raw []byte
}

// IsRIPRelative reports whether the memory operand is addressed relative to
// the next instruction (mod=00, r/m=101 in 64-bit mode).
func (i *Instruction) IsRIPRelative() bool {
	return i.HasModRM && i.ModRM.Mod == 0 && i.ModRM.RM == 5 && i.Disp.Kind == Kind32
}

// IsRelativeBranch reports whether the instruction transfers control to an
// address relative to its own end.
func (i *Instruction) IsRelativeBranch() bool {
	return i.Rel.Present()
}

// BranchTarget returns the absolute target of a relative branch.
func (i *Instruction) BranchTarget() uint64 {
	return uint64(int64(i.Addr) + int64(i.Len) + i.Rel.Value)
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%#x: %s (% x)", i.Addr, i.Mnemonic, i.Raw)
}
