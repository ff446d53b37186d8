// Package trace formats per-instruction machine state.
//
// A line has the shape
//
//	0005:  CALL           14, 1     calls=[ main=[ ] foo=[ 1234 ] ]  stack=[ ] sp=-1
//
// The column widths are fixed; compatibility tests compare traces as text.
package trace

import (
	"fmt"
	"io"
	"strings"

	"stackvm/pkg/bytecode"
	"stackvm/pkg/value"
)

// Frame is the view of one activation record.
type Frame struct {
	Name  string
	Slots []value.Value
}

// Snapshot is the machine state after an instruction. Its slices belong to
// the machine and are only valid during Record.
type Snapshot struct {
	Frames []Frame
	Stack  []value.Value
}

// Sink receives one record per executed instruction.
type Sink interface {
	Record(in bytecode.Instruction, s Snapshot)
}

// AppendHeader appends the address, mnemonic and operands columns.
func AppendHeader(b *strings.Builder, in bytecode.Instruction) {
	name := in.Op.String()
	switch len(in.Operands) {
	case 0:
		fmt.Fprintf(b, "%04d:  %-25s", in.Addr, name)
	case 1:
		fmt.Fprintf(b, "%04d:  %-15s%-10d", in.Addr, name, in.Operands[0])
	default:
		fmt.Fprintf(b, "%04d:  %-15s%-10s", in.Addr, name, in.OperandText())
	}
}

// AppendSnapshot appends the calls=[...] and stack=[...] columns and the
// trailing newline.
func AppendSnapshot(b *strings.Builder, s Snapshot) {
	b.WriteString("calls=[")
	for _, f := range s.Frames {
		b.WriteString(" ")
		b.WriteString(f.Name)
		b.WriteString("=[")
		for _, v := range f.Slots {
			b.WriteString(" ")
			b.WriteString(v.Format())
		}
		b.WriteString(" ]")
	}
	b.WriteString(" ]  ")

	b.WriteString("stack=[")
	for _, v := range s.Stack {
		b.WriteString(" ")
		b.WriteString(v.Format())
	}
	fmt.Fprintf(b, " ] sp=%d\n", len(s.Stack)-1)
}

// Format renders a complete trace line.
func Format(in bytecode.Instruction, s Snapshot) string {
	var b strings.Builder
	AppendHeader(&b, in)
	AppendSnapshot(&b, s)
	return b.String()
}

// Buffer accumulates trace text in memory.
type Buffer struct {
	b strings.Builder
}

// Record implements Sink.
func (t *Buffer) Record(in bytecode.Instruction, s Snapshot) {
	AppendHeader(&t.b, in)
	AppendSnapshot(&t.b, s)
}

// String returns the accumulated trace.
func (t *Buffer) String() string {
	return t.b.String()
}

// Writer streams trace lines to an io.Writer. The first write error stops
// further output and is kept for Err.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter creates a Writer sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Record implements Sink.
func (t *Writer) Record(in bytecode.Instruction, s Snapshot) {
	if t.err != nil {
		return
	}
	_, t.err = io.WriteString(t.w, Format(in, s))
}

// Err returns the first write error.
func (t *Writer) Err() error {
	return t.err
}

// Tee records into every sink in order.
type Tee []Sink

// Record implements Sink.
func (t Tee) Record(in bytecode.Instruction, s Snapshot) {
	for _, sink := range t {
		sink.Record(in, s)
	}
}
