package vm

import (
	"errors"
	"fmt"

	"stackvm/pkg/bytecode"
)

// Fault kinds. Every error returned by Run or Step wraps exactly one of
// these inside a *Fault.
var (
	ErrInvalidOpcode         = errors.New("invalid opcode")
	ErrStackOverflow         = errors.New("operand stack overflow")
	ErrStackUnderflow        = errors.New("operand stack underflow")
	ErrCallStackOverflow     = errors.New("call stack overflow")
	ErrCallStackUnderflow    = errors.New("call stack underflow")
	ErrInvalidLocalIndex     = errors.New("invalid local index")
	ErrUseOfFreedString      = errors.New("use of freed or uninitialized string")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrStringIndexOutOfRange = errors.New("string index out of range")

	ErrTypeMismatch         = errors.New("type mismatch")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrUnknownFunction      = errors.New("unknown function")
	ErrInvalidOperand       = errors.New("invalid operand")
	ErrTruncatedInstruction = errors.New("truncated instruction")
	ErrMaxStepsExceeded     = errors.New("maximum steps exceeded")
)

// Fault is a fatal execution error tied to the instruction that raised it.
type Fault struct {
	Err    error           // one of the Err* kinds
	IP     int             // address of the faulting opcode
	Op     bytecode.Opcode // faulting opcode
	Detail string
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%v at ip=%d (%s)", f.Err, f.IP, f.Op)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// fault builds a Fault for the instruction currently executing. The ip and
// opcode are filled in by Step.
func fault(kind error, format string, args ...any) *Fault {
	return &Fault{Err: kind, Detail: fmt.Sprintf(format, args...)}
}
