package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code in GNU syntax, one line per instruction, using
// the full x86asm decoder. It is for diagnostics only; lengths used for
// patching always come from Decode.
func Disassemble(code []byte, pc uint64) []string {
	var lines []string
	for off := 0; off < len(code); {
		addr := pc + uint64(off)
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%#x: (bad) %02x", addr, code[off]))
			off++
			continue
		}
		lines = append(lines, fmt.Sprintf("%#x: %s", addr, x86asm.GNUSyntax(inst, addr, nil)))
		off += inst.Len
	}
	return lines
}
