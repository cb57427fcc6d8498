// Package disasm measures x86-64 instructions so that code windows can be
// overwritten without splitting an instruction.
//
// The decoder is table driven and deliberately partial: it only knows the
// opcodes that appear in supported recipes. Anything outside the tables is
// reported as a *DecodeError instead of being guessed at, because a wrong
// length would corrupt the instructions that follow the patched window.
//
// Decoding proceeds through two 256-entry dispatch tables. The primary table
// is keyed by the leading byte; the 0x0f entry escapes into the secondary
// table for the following byte. Prefix entries (REX.W, REX.B) accumulate a
// flag and continue decoding, every other entry terminates after its operand
// parser has consumed ModRM, SIB, displacement and immediate bytes.
package disasm
