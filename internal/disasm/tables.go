package disasm

const escapeByte = 0x0f

// entry describes what a single table slot covers. An entry with neither a
// prefix nor the escape flag terminates decoding.
type entry struct {
	mnemonic string
	length   int
	parse    func(d *decoder) error
	prefix   Prefix
	escape   bool
}

// primaryTable is keyed by the leading byte. Missing slots are unsupported.
var primaryTable = [256]*entry{
	0x01: {mnemonic: "add Ev,Gv", length: 1, parse: parseOperand},
	0x0f: {mnemonic: "escape", length: 1, escape: true},
	0x31: {mnemonic: "xor Ev,Gv", length: 1, parse: parseOperand},
	0x41: {mnemonic: "rex.b", length: 1, prefix: PrefixRexB},
	0x48: {mnemonic: "rex.w", length: 1, prefix: PrefixRexW},
	0x50: {mnemonic: "push rAX/r8", length: 1},
	0x53: {mnemonic: "push rBX/r11", length: 1},
	0x54: {mnemonic: "push rSP/r12", length: 1},
	0x55: {mnemonic: "push rBP/r13", length: 1},
	0x56: {mnemonic: "push rSI/r14", length: 1},
	0x58: {mnemonic: "pop rAX/r8", length: 1},
	0x7e: {mnemonic: "jle Jb", length: 1, parse: parseRel8},
	0x80: {mnemonic: "grp1 Eb,Ib", length: 1, parse: parseOperandImm(Kind8)},
	0x81: {mnemonic: "grp1 Ev,Iz", length: 1, parse: parseOperandImm(Kind32)},
	0x83: {mnemonic: "grp1 Ev,Ib", length: 1, parse: parseOperandImm(Kind8)},
	0x85: {mnemonic: "test Ev,Gv", length: 1, parse: parseOperand},
	0x89: {mnemonic: "mov Ev,Gv", length: 1, parse: parseOperand},
	0x8b: {mnemonic: "mov Gv,Ev", length: 1, parse: parseOperand},
	0x8d: {mnemonic: "lea Gv,M", length: 1, parse: parseOperand},
	0xbe: {mnemonic: "mov rSI/r14,Iv", length: 1, parse: parseImmV},
	0xc3: {mnemonic: "ret", length: 1},
}

// escapeTable is keyed by the byte following 0x0f.
var escapeTable = [256]*entry{
	0xaf: {mnemonic: "imul Gv,Ev", length: 1, parse: parseOperand},
}

// modRMForm says what follows a ModRM byte for one (mod, r/m) pair.
type modRMForm struct {
	sib  bool
	disp OperandKind
}

// modRMTable is indexed by [mod][r/m]. Nil cells are not implemented.
var modRMTable = [4][8]*modRMForm{
	// mod=00: [reg] forms. r/m=100 takes a SIB, r/m=101 is RIP+disp32.
	{nil, nil, nil, nil, {sib: true}, {disp: Kind32}, nil, nil},
	// mod=01: [reg+disp8].
	{nil, {disp: Kind8}, nil, nil, {sib: true, disp: Kind8}, nil, {disp: Kind8}, nil},
	// mod=10: none implemented.
	{nil, nil, nil, nil, nil, nil, nil, nil},
	// mod=11: register direct.
	{{}, {}, {}, {}, {}, {}, {}, {}},
}
