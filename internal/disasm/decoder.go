package disasm

import (
	"encoding/binary"
	"fmt"
)

// MaxInstructionLength is the architectural upper bound of one instruction.
const MaxInstructionLength = 15

type decoder struct {
	code []byte
	inst *Instruction
}

// take consumes n bytes at the current position.
func (d *decoder) take(n int) ([]byte, error) {
	start := d.inst.Len
	if start+n > len(d.code) {
		return nil, fmt.Errorf("%w: need %d bytes at %#x, have %d",
			ErrTruncated, n, d.inst.Addr+uint64(start), len(d.code)-start)
	}
	d.inst.Len += n
	return d.code[start : start+n], nil
}

func (d *decoder) fault(offset int, err error, escaped bool) error {
	return &DecodeError{
		Addr:    d.inst.Addr + uint64(offset),
		Byte:    d.code[offset],
		Escaped: escaped,
		Err:     err,
	}
}

// Decode decodes exactly one instruction from the start of code. addr is the
// address code was read from; it is only used for diagnostics and branch
// targets.
func Decode(code []byte, addr uint64) (*Instruction, error) {
	d := &decoder{code: code, inst: &Instruction{Addr: addr}}
	table := &primaryTable
	escaped := false

	for {
		offset := d.inst.Len
		if offset >= len(code) {
			return nil, fmt.Errorf("%w: no opcode at %#x", ErrTruncated, addr+uint64(offset))
		}
		if offset >= MaxInstructionLength {
			return nil, d.fault(offset, ErrUnsupportedOpcode, escaped)
		}

		e := table[code[offset]]
		if e == nil {
			return nil, d.fault(offset, ErrUnsupportedOpcode, escaped)
		}

		covered, err := d.take(e.length)
		if err != nil {
			return nil, err
		}
		if e.prefix == 0 {
			d.inst.Opcode = append(d.inst.Opcode, covered...)
		}

		table = &primaryTable
		escaped = false

		if e.parse != nil {
			if err := e.parse(d); err != nil {
				return nil, err
			}
		}
		if e.escape {
			table = &escapeTable
			escaped = true
			continue
		}
		if e.prefix != 0 {
			d.inst.Prefixes |= e.prefix
			continue
		}

		d.inst.Mnemonic = e.mnemonic
		break
	}

	d.inst.Raw = append([]byte(nil), code[:d.inst.Len]...)
	return d.inst, nil
}

// Measure decodes whole instructions starting at code until want bytes are
// covered. It fails with ErrSplitInstruction if the last instruction extends
// past want.
func Measure(code []byte, addr uint64, want int) ([]*Instruction, error) {
	var insts []*Instruction
	total := 0
	for total < want {
		inst, err := Decode(code[total:], addr+uint64(total))
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
		total += inst.Len
	}
	if total != want {
		return nil, fmt.Errorf("%w: %d-byte window at %#x, instructions cover %d bytes",
			ErrSplitInstruction, want, addr, total)
	}
	return insts, nil
}

func parseOperand(d *decoder) error {
	offset := d.inst.Len
	b, err := d.take(1)
	if err != nil {
		return err
	}
	m := ModRM{
		Mod: (b[0] & 0xc0) >> 6,
		Reg: (b[0] & 0x38) >> 3,
		RM:  b[0] & 0x07,
	}
	form := modRMTable[m.Mod][m.RM]
	if form == nil {
		return d.fault(offset, ErrUnsupportedModRM, false)
	}
	d.inst.ModRM = m
	d.inst.HasModRM = true

	if form.sib {
		offset := d.inst.Len
		s, err := d.take(1)
		if err != nil {
			return err
		}
		sib := SIB{
			Scale: (s[0] & 0xc0) >> 6,
			Index: (s[0] & 0x38) >> 3,
			Base:  s[0] & 0x07,
		}
		// base=101 without a displacement form means disp32 with no base.
		if m.Mod == 0 && sib.Base == 5 {
			return d.fault(offset, ErrUnsupportedSIB, false)
		}
		d.inst.SIB = sib
		d.inst.HasSIB = true
	}

	if form.disp != KindNone {
		v, err := d.signed(form.disp)
		if err != nil {
			return err
		}
		d.inst.Disp = v
	}
	return nil
}

func parseOperandImm(kind OperandKind) func(d *decoder) error {
	return func(d *decoder) error {
		if err := parseOperand(d); err != nil {
			return err
		}
		v, err := d.signed(kind)
		if err != nil {
			return err
		}
		d.inst.Imm = v
		return nil
	}
}

// parseImmV reads the Iv immediate of the mov-to-register forms, which is
// eight bytes wide under REX.W.
func parseImmV(d *decoder) error {
	kind := Kind32
	if d.inst.Prefixes&PrefixRexW != 0 {
		kind = Kind64
	}
	v, err := d.signed(kind)
	if err != nil {
		return err
	}
	d.inst.Imm = v
	return nil
}

func parseRel8(d *decoder) error {
	v, err := d.signed(Kind8)
	if err != nil {
		return err
	}
	d.inst.Rel = v
	return nil
}

func (d *decoder) signed(kind OperandKind) (Operand, error) {
	offset := d.inst.Len
	b, err := d.take(kind.Size())
	if err != nil {
		return Operand{}, err
	}
	op := Operand{Kind: kind, Offset: offset}
	switch kind {
	case Kind8:
		op.Value = int64(int8(b[0]))
	case Kind32:
		op.Value = int64(int32(binary.LittleEndian.Uint32(b)))
	case Kind64:
		op.Value = int64(binary.LittleEndian.Uint64(b))
	}
	return op, nil
}
