package bytecode

import "fmt"

// Opcode is a single-byte instruction code.
type Opcode byte

// List of opcodes. The numbering is part of the bytecode contract.
const (
	HALT Opcode = iota

	IADD
	ISUB
	IMUL
	IDIV
	SADD

	OR
	AND
	INEG
	NOT

	I2S

	IEQ
	INEQ
	ILT
	ILE
	IGT
	IGE
	SEQ
	SNEQ
	SGT
	SGE
	SLT
	SLE

	BR
	BRF

	ICONST
	SCONST

	LOAD
	STORE
	SINDEX

	POP
	CALL
	LOCALS
	RET

	PRINT
	SLEN
	SFREE

	numOpcodes
)

// Info describes how an opcode is encoded and traced.
type Info struct {
	Name     string // mnemonic
	Operands []int  // immediate widths in bytes, in order (2 or 4)
	Pops     int    // values popped from the operand stack (CALL pops a variable count)
}

// Size returns the encoded length of the instruction, opcode byte included.
func (i Info) Size() int {
	n := 1
	for _, w := range i.Operands {
		n += w
	}
	return n
}

// registry is indexed by opcode and never modified after init.
var registry = [numOpcodes]Info{
	HALT: {"HALT", nil, 0},

	IADD: {"IADD", nil, 2},
	ISUB: {"ISUB", nil, 2},
	IMUL: {"IMUL", nil, 2},
	IDIV: {"IDIV", nil, 2},
	SADD: {"SADD", nil, 2},

	OR:   {"OR", nil, 2},
	AND:  {"AND", nil, 2},
	INEG: {"INEG", nil, 1},
	NOT:  {"NOT", nil, 1},

	I2S: {"I2S", nil, 1},

	IEQ:  {"IEQ", nil, 2},
	INEQ: {"INEQ", nil, 2},
	ILT:  {"ILT", nil, 2},
	ILE:  {"ILE", nil, 2},
	IGT:  {"IGT", nil, 2},
	IGE:  {"IGE", nil, 2},
	SEQ:  {"SEQ", nil, 2},
	SNEQ: {"SNEQ", nil, 2},
	SGT:  {"SGT", nil, 2},
	SGE:  {"SGE", nil, 2},
	SLT:  {"SLT", nil, 2},
	SLE:  {"SLE", nil, 2},

	BR:  {"BR", []int{4}, 0},
	BRF: {"BRF", []int{4}, 1},

	ICONST: {"ICONST", []int{4}, 0},
	SCONST: {"SCONST", []int{2}, 0},

	LOAD:   {"LOAD", []int{2}, 0},
	STORE:  {"STORE", []int{2}, 1},
	SINDEX: {"SINDEX", nil, 2},

	POP:    {"POP", nil, 1},
	CALL:   {"CALL", []int{4, 2}, 0},
	LOCALS: {"LOCALS", []int{2}, 0},
	RET:    {"RET", nil, 1},

	PRINT: {"PRINT", nil, 1},
	SLEN:  {"SLEN", nil, 1},
	SFREE: {"SFREE", []int{2}, 0},
}

var byName = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op, info := range registry {
		m[info.Name] = Opcode(op)
	}
	return m
}()

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op < numOpcodes
}

// Info returns the registry entry for op. Unknown opcodes get a placeholder name.
func (op Opcode) Info() Info {
	if !op.Valid() {
		return Info{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
	}
	return registry[op]
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// Lookup finds an opcode by mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := byName[name]
	return op, ok
}

// Opcodes returns every defined opcode in numeric order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, numOpcodes)
	for op := Opcode(0); op < numOpcodes; op++ {
		ops = append(ops, op)
	}
	return ops
}
