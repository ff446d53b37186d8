package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Builder helps construct bytecode sequences.
type Builder struct {
	bytes  []byte
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	pos   int // offset of the 4-byte address field
	label string
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{
		bytes:  make([]byte, 0, 64),
		labels: make(map[string]int),
	}
}

// Len returns the current length, i.e. the address of the next instruction.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends op with its immediates. The operand count and ranges are
// checked against the registry.
func (b *Builder) Emit(op Opcode, operands ...int64) error {
	if !op.Valid() {
		return fmt.Errorf("%w %d", ErrUnknownOpcode, byte(op))
	}

	info := registry[op]
	if len(operands) != len(info.Operands) {
		return fmt.Errorf("%s takes %d operand(s), got %d", info.Name, len(info.Operands), len(operands))
	}

	for i, w := range info.Operands {
		if err := checkWidth(operands[i], w); err != nil {
			return fmt.Errorf("%s operand %d: %w", info.Name, i+1, err)
		}
	}

	b.bytes = append(b.bytes, byte(op))
	for i, w := range info.Operands {
		b.bytes = appendInt(b.bytes, operands[i], w)
	}
	return nil
}

// MustEmit is Emit that panics on error; for tests and hand-built programs.
func (b *Builder) MustEmit(op Opcode, operands ...int64) *Builder {
	if err := b.Emit(op, operands...); err != nil {
		panic(err)
	}
	return b
}

// Mark binds name to the current address.
func (b *Builder) Mark(name string) {
	if _, ok := b.labels[name]; ok {
		panic("label already marked: " + name)
	}
	b.labels[name] = len(b.bytes)
}

// EmitJump appends a branch or call whose address operand refers to a label
// that may be marked later. Remaining operands follow the address.
func (b *Builder) EmitJump(op Opcode, label string, rest ...int64) error {
	switch op {
	case BR, BRF, CALL:
	default:
		return fmt.Errorf("%s does not take an address operand", op)
	}

	pos := len(b.bytes) + 1
	if err := b.Emit(op, append([]int64{0}, rest...)...); err != nil {
		return err
	}
	b.fixups = append(b.fixups, fixup{pos: pos, label: label})
	return nil
}

// Bytes resolves label references and returns the constructed bytecode.
func (b *Builder) Bytes() ([]byte, error) {
	for _, f := range b.fixups {
		addr, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		binary.LittleEndian.PutUint32(b.bytes[f.pos:], uint32(int32(addr)))
	}
	b.fixups = nil
	return b.bytes, nil
}

func checkWidth(v int64, width int) error {
	switch width {
	case 2:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return fmt.Errorf("value %d does not fit in 2 bytes", v)
		}
	case 4:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("value %d does not fit in 4 bytes", v)
		}
	default:
		return fmt.Errorf("unsupported operand width %d", width)
	}
	return nil
}

func appendInt(dst []byte, v int64, width int) []byte {
	switch width {
	case 2:
		return binary.LittleEndian.AppendUint16(dst, uint16(int16(v)))
	default:
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(v)))
	}
}
