// Package asm assembles the textual bytecode format into a Program.
//
//	2 strings
//	    0: 5/hello
//	    1: 3/bye
//	2 functions maxaddr=9
//	    0: 4/main
//	    9: 3/foo
//	7 instr, 21 bytes
//	    CALL 9, 0
//	    ...
//
// Strings and function names are length-prefixed and taken verbatim. The
// byte count and maxaddr are informational; the instruction count must match.
package asm

import (
	"errors"
	"fmt"
	"strconv"

	"stackvm/pkg/bytecode"
)

// Error is an assembly error with its source position.
type Error struct {
	Pos Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

type parser struct {
	l   *Lexer
	tok Token
}

// Parse assembles src.
func Parse(src string) (*bytecode.Program, error) {
	p := &parser{l: NewLexer(src)}
	p.next()
	return p.program()
}

func (p *parser) next() {
	p.tok = p.l.NextToken()
}

func (p *parser) errorf(pos Position, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(t TokenType) (Token, error) {
	tok := p.tok
	if tok.Type != t {
		return tok, p.errorf(tok.Pos, "expected %s, found %s", t, describe(tok))
	}
	p.next()
	return tok, nil
}

func (p *parser) expectWord(word string) error {
	if p.tok.Type != WORD || p.tok.Lexeme != word {
		return p.errorf(p.tok.Pos, "expected %q, found %s", word, describe(p.tok))
	}
	p.next()
	return nil
}

func (p *parser) number() (int64, Position, error) {
	tok, err := p.expect(NUM)
	if err != nil {
		return 0, tok.Pos, err
	}
	n, err := strconv.ParseInt(tok.Lexeme, 10, 64)
	if err != nil {
		return 0, tok.Pos, p.errorf(tok.Pos, "number %s out of range", tok.Lexeme)
	}
	return n, tok.Pos, nil
}

func (p *parser) count() (int, error) {
	n, pos, err := p.number()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 1<<20 {
		return 0, p.errorf(pos, "bad count %d", n)
	}
	return int(n), nil
}

// endLine consumes the end of the current line and any blank lines.
func (p *parser) endLine() error {
	if p.tok.Type == EOF {
		return nil
	}
	if _, err := p.expect(NEWLINE); err != nil {
		return err
	}
	p.skipBlank()
	return nil
}

func (p *parser) skipBlank() {
	for p.tok.Type == NEWLINE {
		p.next()
	}
}

func (p *parser) program() (*bytecode.Program, error) {
	p.skipBlank()
	prog := &bytecode.Program{}

	constants, err := p.strings()
	if err != nil {
		return nil, err
	}
	prog.Constants = constants

	functions, err := p.functions()
	if err != nil {
		return nil, err
	}
	prog.Functions = functions

	code, err := p.instructions()
	if err != nil {
		return nil, err
	}
	prog.Code = code

	return prog, nil
}

// entry parses "n: len/text" and returns n and text. The text is read
// verbatim right after the slash.
func (p *parser) entry() (int64, string, error) {
	n, _, err := p.number()
	if err != nil {
		return 0, "", err
	}
	if _, err := p.expect(COLON); err != nil {
		return 0, "", err
	}

	// The slash and text are read raw so text starting with "//" or
	// containing blanks survives.
	size, pos, err := p.lengthPrefix()
	if err != nil {
		return 0, "", err
	}
	text, _, ok := p.l.Raw(size)
	if !ok {
		return 0, "", p.errorf(pos, "text of length %d runs past end of input", size)
	}
	p.next()
	return n, text, p.endLine()
}

func (p *parser) lengthPrefix() (int, Position, error) {
	tok := p.tok
	if tok.Type != NUM {
		return 0, tok.Pos, p.errorf(tok.Pos, "expected length, found %s", describe(tok))
	}
	size, err := strconv.Atoi(tok.Lexeme)
	if err != nil || size < 0 {
		return 0, tok.Pos, p.errorf(tok.Pos, "bad length %s", tok.Lexeme)
	}
	if slash, pos, ok := p.l.Raw(1); !ok || slash != "/" {
		return 0, pos, p.errorf(pos, "expected '/' after length %d", size)
	}
	return size, tok.Pos, nil
}

func (p *parser) strings() ([]string, error) {
	n, err := p.count()
	if err != nil {
		return nil, err
	}
	if err := p.expectWord("strings"); err != nil {
		return nil, err
	}
	if err := p.endLine(); err != nil {
		return nil, err
	}

	constants := make([]string, 0, n)
	for i := 0; i < n; i++ {
		pos := p.tok.Pos
		idx, text, err := p.entry()
		if err != nil {
			return nil, err
		}
		if idx != int64(i) {
			return nil, p.errorf(pos, "string %d listed as %d", i, idx)
		}
		constants = append(constants, text)
	}
	return constants, nil
}

func (p *parser) functions() ([]bytecode.Function, error) {
	n, err := p.count()
	if err != nil {
		return nil, err
	}
	if err := p.expectWord("functions"); err != nil {
		return nil, err
	}
	if p.tok.Type == WORD && p.tok.Lexeme == "maxaddr" {
		p.next()
		if _, err := p.expect(EQUALS); err != nil {
			return nil, err
		}
		if _, _, err := p.number(); err != nil {
			return nil, err
		}
	}
	if err := p.endLine(); err != nil {
		return nil, err
	}

	functions := make([]bytecode.Function, 0, n)
	for i := 0; i < n; i++ {
		pos := p.tok.Pos
		addr, name, err := p.entry()
		if err != nil {
			return nil, err
		}
		if addr < 0 || addr > 1<<31-1 {
			return nil, p.errorf(pos, "function %q has bad address %d", name, addr)
		}
		functions = append(functions, bytecode.Function{Addr: int(addr), Name: name})
	}
	return functions, nil
}

func (p *parser) instructions() ([]byte, error) {
	n, err := p.count()
	if err != nil {
		return nil, err
	}
	if err := p.expectWord("instr"); err != nil {
		return nil, err
	}
	if _, err := p.expect(COMMA); err != nil {
		return nil, err
	}
	if _, _, err := p.number(); err != nil {
		return nil, err
	}
	if err := p.expectWord("bytes"); err != nil {
		return nil, err
	}
	if err := p.endLine(); err != nil {
		return nil, err
	}

	b := bytecode.NewBuilder()
	seen := 0
	for p.tok.Type != EOF {
		if err := p.instruction(b); err != nil {
			return nil, err
		}
		seen++
	}
	if seen != n {
		return nil, p.errorf(p.tok.Pos, "header declares %d instructions, found %d", n, seen)
	}

	return b.Bytes()
}

func (p *parser) instruction(b *bytecode.Builder) error {
	tok, err := p.expect(WORD)
	if err != nil {
		return err
	}
	op, ok := bytecode.Lookup(tok.Lexeme)
	if !ok {
		return p.errorf(tok.Pos, "unknown mnemonic %q", tok.Lexeme)
	}

	var operands []int64
	for p.tok.Type != NEWLINE && p.tok.Type != EOF {
		if len(operands) > 0 {
			if _, err := p.expect(COMMA); err != nil {
				return err
			}
		}
		v, _, err := p.number()
		if err != nil {
			return err
		}
		operands = append(operands, v)
	}

	if err := b.Emit(op, operands...); err != nil {
		return p.errorf(tok.Pos, "%v", err)
	}
	return p.endLine()
}

func describe(tok Token) string {
	switch tok.Type {
	case EOF, NEWLINE:
		return tok.Type.String()
	default:
		return fmt.Sprintf("%q", tok.Lexeme)
	}
}

// IsError reports whether err came from the assembler.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
