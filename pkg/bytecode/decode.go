package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated instruction")
)

// Instruction is one decoded instruction.
type Instruction struct {
	Addr     int     // address of the opcode byte
	Op       Opcode  // opcode
	Operands []int32 // sign-extended immediates, in registry order
}

// Size returns the encoded length of the instruction.
func (in Instruction) Size() int {
	return in.Op.Info().Size()
}

// Next returns the address immediately following the instruction.
func (in Instruction) Next() int {
	return in.Addr + in.Size()
}

// String renders the instruction as assembler text, e.g. "CALL 19, 2".
func (in Instruction) String() string {
	if len(in.Operands) == 0 {
		return in.Op.String()
	}
	return in.Op.String() + " " + in.OperandText()
}

// OperandText joins the operands with ", ".
func (in Instruction) OperandText() string {
	parts := make([]string, len(in.Operands))
	for i, v := range in.Operands {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

// Decode reads the instruction at addr. Immediates are little-endian signed
// fields whose widths come from the registry.
func Decode(code []byte, addr int) (Instruction, error) {
	if addr < 0 || addr >= len(code) {
		return Instruction{}, fmt.Errorf("address %d outside code [0, %d): %w", addr, len(code), ErrTruncated)
	}

	op := Opcode(code[addr])
	if !op.Valid() {
		return Instruction{Addr: addr, Op: op}, fmt.Errorf("%w %d at ip=%d", ErrUnknownOpcode, byte(op), addr)
	}

	info := registry[op]
	in := Instruction{Addr: addr, Op: op}
	if len(info.Operands) > 0 {
		in.Operands = make([]int32, 0, len(info.Operands))
	}

	pos := addr + 1
	for _, width := range info.Operands {
		if pos+width > len(code) {
			return in, fmt.Errorf("%s at ip=%d needs %d operand bytes at %d: %w", info.Name, addr, width, pos, ErrTruncated)
		}
		in.Operands = append(in.Operands, readInt(code[pos:pos+width]))
		pos += width
	}

	return in, nil
}

func readInt(b []byte) int32 {
	switch len(b) {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int32(binary.LittleEndian.Uint32(b))
	default:
		panic(fmt.Sprintf("bytecode: unsupported operand width %d", len(b)))
	}
}

// Disassemble decodes the whole buffer, one line per instruction, prefixed
// with the zero-padded address. Decoding stops at the first bad instruction.
func Disassemble(code []byte) ([]string, error) {
	var lines []string
	for addr := 0; addr < len(code); {
		in, err := Decode(code, addr)
		if err != nil {
			return lines, err
		}
		lines = append(lines, fmt.Sprintf("%04d:  %s", addr, in))
		addr = in.Next()
	}
	return lines, nil
}
