// Package recipe parses instrumentation recipes.
//
// A recipe holds one directive per line. Blank lines and lines starting with
// '#' are ignored. The only directive is
//
//	T <library-path> <hex-address> <overwrite-length>
//
// which requests a timing probe over overwrite-length bytes at hex-address
// inside library-path. Any malformed line rejects the whole recipe.
package recipe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coral-mesh/cockroach/internal/probe"
	"github.com/coral-mesh/cockroach/internal/safe"
)

// DirectiveTiming is the timing probe directive.
const DirectiveTiming = "T"

// MaxRecipeSize bounds the recipe file read by ParseFile.
const MaxRecipeSize = 4 << 20

const timingTokens = 4

var (
	ErrTokenCount           = errors.New("token count mismatch")
	ErrUnknownDirective     = errors.New("unknown directive")
	ErrSymbolNotImplemented = errors.New("symbolic addresses are not implemented")
	ErrInvalidLength        = errors.New("invalid overwrite length")
	ErrOverwriteTooShort    = errors.New("overwrite length shorter than a near jump")
)

// ParseError locates a rejected recipe line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recipe line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseFile reads and parses the recipe at path.
func ParseFile(path string) ([]*probe.Descriptor, error) {
	data, err := safe.ReadFile(path, &safe.ReadFileOptions{
		MaxSize:       MaxRecipeSize,
		AllowSymlinks: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse returns one pending descriptor per directive in r.
func Parse(r io.Reader) ([]*probe.Descriptor, error) {
	var descs []*probe.Descriptor

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		d, err := parseLine(strings.Fields(text))
		if err != nil {
			return nil, &ParseError{Line: line, Text: text, Err: err}
		}
		d.Line = line
		descs = append(descs, d)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	return descs, nil
}

func parseLine(tokens []string) (*probe.Descriptor, error) {
	if tokens[0] != DirectiveTiming {
		return nil, fmt.Errorf("%w %q", ErrUnknownDirective, tokens[0])
	}
	if len(tokens) != timingTokens {
		return nil, fmt.Errorf("%w: %q takes %d tokens, got %d",
			ErrTokenCount, DirectiveTiming, timingTokens, len(tokens))
	}

	lib, addrTok, lenTok := tokens[1], tokens[2], tokens[3]

	offset, ok := parseHex(addrTok)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSymbolNotImplemented, addrTok)
	}

	length, err := strconv.Atoi(lenTok)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrInvalidLength, lenTok)
	}
	if length < probe.JumpSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrOverwriteTooShort, length, probe.JumpSize)
	}

	return probe.NewOverwriteJump(lib, offset, length), nil
}

// parseHex accepts hex digits with an optional 0x or 0X prefix.
func parseHex(tok string) (uint64, bool) {
	digits := tok
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		digits = tok[2:]
	}
	if digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
