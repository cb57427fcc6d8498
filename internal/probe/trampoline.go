package probe

import (
	"encoding/binary"
	"fmt"

	"github.com/coral-mesh/cockroach/internal/disasm"
	"github.com/coral-mesh/cockroach/internal/safe"
)

// Register save area layout. The red zone below the interrupted rsp is
// skipped first since the patch site may be inside a leaf function.
var (
	skipRedZone    = []byte{0x48, 0x8d, 0x64, 0x24, 0x80}                   // lea rsp, [rsp-0x80]
	restoreRedZone = []byte{0x48, 0x8d, 0xa4, 0x24, 0x80, 0x00, 0x00, 0x00} // lea rsp, [rsp+0x80]

	saveRegs = []byte{
		0x9c,                                     // pushfq
		0xfc,                                     // cld
		0x50,                                     // push rax
		0x51,                                     // push rcx
		0x52,                                     // push rdx
		0x56,                                     // push rsi
		0x57,                                     // push rdi
		0x41, 0x50,                               // push r8
		0x41, 0x51,                               // push r9
		0x41, 0x52,                               // push r10
		0x41, 0x53,                               // push r11
		0x55,                                     // push rbp
		0x48, 0x89, 0xe5,                         // mov rbp, rsp
		0x48, 0x83, 0xe4, 0xf0,                   // and rsp, -16
		0x48, 0x81, 0xec, 0x00, 0x02, 0x00, 0x00, // sub rsp, 512
		0x48, 0x0f, 0xae, 0x04, 0x24,             // fxsave64 [rsp]
	}

	restoreRegs = []byte{
		0x48, 0x0f, 0xae, 0x0c, 0x24, // fxrstor64 [rsp]
		0x48, 0x89, 0xec,             // mov rsp, rbp
		0x5d,                         // pop rbp
		0x41, 0x5b,                   // pop r11
		0x41, 0x5a,                   // pop r10
		0x41, 0x59,                   // pop r9
		0x41, 0x58,                   // pop r8
		0x5f,                         // pop rdi
		0x5e,                         // pop rsi
		0x5a,                         // pop rdx
		0x59,                         // pop rcx
		0x58,                         // pop rax
		0x9d,                         // popfq
	}
)

const (
	movabsRAX   = 0x48b8 // followed by imm64
	callSize    = 2 + 8 + 2
	absJumpSize = 6 + 8
	jccRel32    = 6
)

// trampolineSize returns the exact size buildTrampoline will emit.
func trampolineSize(d *Descriptor, insts []*disasm.Instruction) int {
	n := len(skipRedZone) + len(saveRegs) + len(restoreRegs) + len(restoreRedZone) + absJumpSize
	for _, h := range []Hook{d.PreHook, d.PostHook} {
		if h != 0 {
			n += callSize
		}
	}
	for _, inst := range insts {
		n += relocatedLen(inst)
	}
	return n
}

func relocatedLen(inst *disasm.Instruction) int {
	if inst.IsRelativeBranch() {
		return jccRel32
	}
	return inst.Len
}

type assembler struct {
	base uint64
	buf  []byte
}

func (a *assembler) pc() uint64 {
	return a.base + uint64(len(a.buf))
}

func (a *assembler) emit(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *assembler) emitU32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

func (a *assembler) emitU64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

// call emits movabs rax, target; call rax.
func (a *assembler) call(target uint64) {
	a.emit(byte(movabsRAX>>8), byte(movabsRAX&0xff))
	a.emitU64(target)
	a.emit(0xff, 0xd0)
}

// jmpAbs emits jmp [rip+0] followed by the 8-byte target.
func (a *assembler) jmpAbs(target uint64) {
	a.emit(0xff, 0x25, 0x00, 0x00, 0x00, 0x00)
	a.emitU64(target)
}

// relocate copies inst to the current position, rebasing any operand that
// is relative to the instruction pointer.
func (a *assembler) relocate(inst *disasm.Instruction, window [2]uint64) error {
	switch {
	case inst.IsRelativeBranch():
		target := inst.BranchTarget()
		if target >= window[0] && target < window[1] {
			return fmt.Errorf("%w: %s targets the patched window", ErrRelativeBranch, inst)
		}
		if len(inst.Opcode) != 1 || inst.Opcode[0]&0xf0 != 0x70 {
			return fmt.Errorf("%w: %s", ErrRelativeBranch, inst)
		}
		rel, err := safe.Rel32(a.pc()+jccRel32, target)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRelativeBranch, inst, err)
		}
		// Jcc rel8 (7x) becomes Jcc rel32 (0f 8x).
		a.emit(0x0f, 0x80|inst.Opcode[0]&0x0f)
		a.emitU32(uint32(rel)) //nolint:gosec // G115: two's complement encoding.
		return nil

	case inst.IsRIPRelative():
		target := inst.Addr + uint64(inst.Len) + uint64(inst.Disp.Value) //nolint:gosec // G115: wraps as intended.
		rel, err := safe.Rel32(a.pc()+uint64(inst.Len), target)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRelocation, inst, err)
		}
		raw := append([]byte(nil), inst.Raw...)
		binary.LittleEndian.PutUint32(raw[inst.Disp.Offset:], uint32(rel)) //nolint:gosec // G115: two's complement encoding.
		a.emit(raw...)
		return nil

	default:
		a.emit(inst.Raw...)
		return nil
	}
}

// buildTrampoline assembles the trampoline for d at base. insts are the
// decoded instructions of the patch window.
func buildTrampoline(base uint64, d *Descriptor, insts []*disasm.Instruction) ([]byte, error) {
	a := &assembler{base: base, buf: make([]byte, 0, trampolineSize(d, insts))}

	a.emit(skipRedZone...)
	a.emit(saveRegs...)
	if d.PreHook != 0 {
		a.call(uint64(d.PreHook))
	}
	if d.PostHook != 0 {
		a.call(uint64(d.PostHook))
	}
	a.emit(restoreRegs...)
	a.emit(restoreRedZone...)

	window := [2]uint64{d.Address, d.ResumeAddr()}
	for _, inst := range insts {
		if err := a.relocate(inst, window); err != nil {
			return nil, err
		}
	}
	a.jmpAbs(d.ResumeAddr())

	return a.buf, nil
}

// patchSite returns the bytes written over the window: a near jump to the
// trampoline padded with int3.
func patchSite(addr uint64, length int, trampoline uint64) ([]byte, error) {
	rel, err := safe.Rel32(addr+JumpSize, trampoline)
	if err != nil {
		return nil, err
	}
	patch := make([]byte, length)
	patch[0] = 0xe9
	binary.LittleEndian.PutUint32(patch[1:], uint32(rel)) //nolint:gosec // G115: two's complement encoding.
	for i := JumpSize; i < length; i++ {
		patch[i] = 0xcc
	}
	return patch, nil
}
