package vm

import (
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"stackvm/pkg/bytecode"
	"stackvm/pkg/strobj"
	"stackvm/pkg/value"
)

var stringPredicates = map[bytecode.Opcode]strobj.Predicate{
	bytecode.SEQ:  strobj.Eq,
	bytecode.SNEQ: strobj.Neq,
	bytecode.SLT:  strobj.Lt,
	bytecode.SLE:  strobj.Le,
	bytecode.SGT:  strobj.Gt,
	bytecode.SGE:  strobj.Ge,
}

// checkPops verifies the operand stack holds what the registry says the
// instruction pops.
func (m *Machine) checkPops(in bytecode.Instruction) *Fault {
	if pops := in.Op.Info().Pops; m.stack.Size() < pops {
		return fault(ErrStackUnderflow, "needs %d operand(s), stack holds %d", pops, m.stack.Size())
	}
	return nil
}

// exec applies the semantics of one decoded instruction. m.ip already points
// past it.
func (m *Machine) exec(in bytecode.Instruction) *Fault {
	switch in.Op {
	case bytecode.HALT:
		m.halted = true
		return nil

	case bytecode.IADD, bytecode.ISUB, bytecode.IMUL, bytecode.IDIV:
		y, f := m.popInt()
		if f != nil {
			return f
		}
		x, f := m.popInt()
		if f != nil {
			return f
		}
		r, f := arith(in.Op, x, y)
		if f != nil {
			return f
		}
		return m.push(value.Int(r))

	case bytecode.SADD:
		t, f := m.popString()
		if f != nil {
			return f
		}
		s, f := m.popString()
		if f != nil {
			return f
		}
		r, err := m.heap.Concat(s, t)
		if err != nil {
			return released(err)
		}
		return m.push(value.String(r))

	case bytecode.OR, bytecode.AND:
		y, f := m.popBool()
		if f != nil {
			return f
		}
		x, f := m.popBool()
		if f != nil {
			return f
		}
		if in.Op == bytecode.OR {
			return m.push(value.Boolean(x || y))
		}
		return m.push(value.Boolean(x && y))

	case bytecode.INEG:
		x, f := m.popInt()
		if f != nil {
			return f
		}
		return m.push(value.Int(-x))

	case bytecode.NOT:
		x, f := m.popBool()
		if f != nil {
			return f
		}
		return m.push(value.Boolean(!x))

	case bytecode.I2S:
		x, f := m.popInt()
		if f != nil {
			return f
		}
		return m.push(value.String(m.heap.FromInt(x)))

	case bytecode.IEQ, bytecode.INEQ, bytecode.ILT, bytecode.ILE, bytecode.IGT, bytecode.IGE:
		y, f := m.popInt()
		if f != nil {
			return f
		}
		x, f := m.popInt()
		if f != nil {
			return f
		}
		return m.push(value.Boolean(compareInts(in.Op, x, y)))

	case bytecode.SEQ, bytecode.SNEQ, bytecode.SLT, bytecode.SLE, bytecode.SGT, bytecode.SGE:
		t, f := m.popString()
		if f != nil {
			return f
		}
		s, f := m.popString()
		if f != nil {
			return f
		}
		ok, err := stringPredicates[in.Op](s, t)
		if err != nil {
			return released(err)
		}
		return m.push(value.Boolean(ok))

	case bytecode.BR:
		return m.jump(in.Operands[0])

	case bytecode.BRF:
		c, f := m.popBool()
		if f != nil {
			return f
		}
		if !c {
			return m.jump(in.Operands[0])
		}
		return nil

	case bytecode.ICONST:
		return m.push(value.Int(in.Operands[0]))

	case bytecode.SCONST:
		id := int(in.Operands[0])
		if id < 0 || id >= len(m.prog.Constants) {
			return fault(ErrInvalidOperand, "string constant %d not in pool of %d", id, len(m.prog.Constants))
		}
		return m.push(value.String(m.heap.FromConstant(m.prog.Constants[id])))

	case bytecode.LOAD:
		slot, f := m.local(in.Operands[0])
		if f != nil {
			return f
		}
		if !slot.Live() {
			return fault(ErrUseOfFreedString, "local %d holds no live value", in.Operands[0])
		}
		return m.push(*slot)

	case bytecode.STORE:
		slot, f := m.local(in.Operands[0])
		if f != nil {
			return f
		}
		v, f := m.pop()
		if f != nil {
			return f
		}
		*slot = v
		return nil

	case bytecode.SINDEX:
		i, f := m.popInt()
		if f != nil {
			return f
		}
		s, f := m.popString()
		if f != nil {
			return f
		}
		c, ok, err := s.At(int(i))
		if err != nil {
			return released(err)
		}
		if !ok {
			n, _ := s.Len()
			return fault(ErrStringIndexOutOfRange, "index %d, length %d", i, n)
		}
		return m.push(value.String(m.heap.FromChar(c)))

	case bytecode.POP:
		_, f := m.pop()
		return f

	case bytecode.CALL:
		return m.call(in)

	case bytecode.LOCALS:
		n := int(in.Operands[0])
		if n < 0 {
			return fault(ErrInvalidOperand, "negative local count %d", n)
		}
		m.frame().declare(n)
		return nil

	case bytecode.RET:
		return m.ret()

	case bytecode.PRINT:
		v, f := m.pop()
		if f != nil {
			return f
		}
		if !v.Live() {
			return fault(ErrUseOfFreedString, "cannot print %s value", v.Kind)
		}
		text := v.Text() + "\n"
		m.out.WriteString(text)
		if m.echo != nil {
			_, _ = io.WriteString(m.echo, text)
		}
		return nil

	case bytecode.SLEN:
		s, f := m.popString()
		if f != nil {
			return f
		}
		n, err := s.Len()
		if err != nil {
			return released(err)
		}
		return m.push(value.Int(int32(n)))

	case bytecode.SFREE:
		return m.free(in.Operands[0])

	default:
		return fault(ErrInvalidOpcode, "opcode %d", byte(in.Op))
	}
}

func arith(op bytecode.Opcode, x, y int32) (int32, *Fault) {
	switch op {
	case bytecode.IADD:
		return x + y, nil
	case bytecode.ISUB:
		return x - y, nil
	case bytecode.IMUL:
		return x * y, nil
	default:
		if y == 0 {
			return 0, fault(ErrDivisionByZero, "%d / 0", x)
		}
		return x / y, nil
	}
}

func compareInts(op bytecode.Opcode, x, y int32) bool {
	switch op {
	case bytecode.IEQ:
		return x == y
	case bytecode.INEQ:
		return x != y
	case bytecode.ILT:
		return x < y
	case bytecode.ILE:
		return x <= y
	case bytecode.IGT:
		return x > y
	default:
		return x >= y
	}
}

// call pops nargs values into a new frame for the function at the target
// address and transfers control to it.
func (m *Machine) call(in bytecode.Instruction) *Fault {
	addr, nargs := int(in.Operands[0]), int(in.Operands[1])
	if nargs < 0 {
		return fault(ErrInvalidOperand, "negative argument count %d", nargs)
	}
	if addr < 0 || addr >= len(m.prog.Code) {
		return fault(ErrInvalidAddress, "call target %d outside code [0, %d)", addr, len(m.prog.Code))
	}
	fn, ok := m.prog.FunctionAt(addr)
	if !ok {
		return fault(ErrUnknownFunction, "no function starts at %d", addr)
	}
	if m.calls.Size() >= m.calls.Limit() {
		return fault(ErrCallStackOverflow, "calling %s at depth %d", fn.Name, m.calls.Size())
	}
	if m.stack.Size() < nargs {
		return fault(ErrStackUnderflow, "%s takes %d argument(s), stack holds %d", fn.Name, nargs, m.stack.Size())
	}

	callee := newFrame(fn.Name, nargs, m.ip)
	for i := nargs - 1; i >= 0; i-- {
		callee.Locals[i], _ = m.stack.Pop()
	}
	m.calls.Push(callee)
	m.ip = addr

	log.Debug("call", "fn", fn.Name, "addr", addr, "nargs", nargs, "depth", m.calls.Size())
	return nil
}

// ret moves the return value to the caller and resumes at the return
// address of the popped frame.
func (m *Machine) ret() *Fault {
	if m.calls.Size() <= 1 {
		return fault(ErrCallStackUnderflow, "return from the entry frame")
	}
	v, f := m.pop()
	if f != nil {
		return f
	}
	done, _ := m.calls.Pop()
	if f := m.push(v); f != nil {
		return f
	}
	m.ip = done.ReturnAddr

	log.Debug("return", "fn", done.Name, "to", done.ReturnAddr, "depth", m.calls.Size())
	return nil
}

// free releases the string owned by a local and marks the slot Invalid.
func (m *Machine) free(index int32) *Fault {
	slot, f := m.local(index)
	if f != nil {
		return f
	}
	switch slot.Kind {
	case value.KindString:
		if err := m.heap.Release(slot.Str); err != nil {
			return fault(ErrUseOfFreedString, "local %d already released", index)
		}
		*slot = value.Invalid
		return nil
	case value.KindInt, value.KindBool:
		return fault(ErrTypeMismatch, "local %d holds %s, not string", index, slot.Kind)
	default:
		return fault(ErrUseOfFreedString, "local %d holds no string", index)
	}
}

func (m *Machine) jump(target int32) *Fault {
	if target < 0 || int(target) > len(m.prog.Code) {
		return fault(ErrInvalidAddress, "branch target %d outside code [0, %d]", target, len(m.prog.Code))
	}
	m.ip = int(target)
	return nil
}

func (m *Machine) frame() *Frame {
	f, _ := m.calls.Peek()
	return f
}

func (m *Machine) local(index int32) (*value.Value, *Fault) {
	fr := m.frame()
	slot := fr.slot(int(index))
	if slot == nil {
		return nil, fault(ErrInvalidLocalIndex, "local %d in %s with %d arg(s) and %d local(s)", index, fr.Name, fr.NArgs, fr.NLocals)
	}
	return slot, nil
}

func (m *Machine) push(v value.Value) *Fault {
	if !m.stack.Push(v) {
		return fault(ErrStackOverflow, "limit %d", m.stack.Limit())
	}
	return nil
}

func (m *Machine) pop() (value.Value, *Fault) {
	v, ok := m.stack.Pop()
	if !ok {
		return value.Invalid, fault(ErrStackUnderflow, "empty operand stack")
	}
	return v, nil
}

func (m *Machine) popInt() (int32, *Fault) {
	v, f := m.pop()
	if f != nil {
		return 0, f
	}
	if v.Kind != value.KindInt {
		return 0, fault(ErrTypeMismatch, "expected int, got %s", v.Kind)
	}
	return v.I32, nil
}

func (m *Machine) popBool() (bool, *Fault) {
	v, f := m.pop()
	if f != nil {
		return false, f
	}
	if v.Kind != value.KindBool {
		return false, fault(ErrTypeMismatch, "expected bool, got %s", v.Kind)
	}
	return v.Bool, nil
}

func (m *Machine) popString() (*strobj.Object, *Fault) {
	v, f := m.pop()
	if f != nil {
		return nil, f
	}
	switch v.Kind {
	case value.KindString:
		if v.Str.Released() {
			return nil, fault(ErrUseOfFreedString, "string #%d was released", v.Str.ID())
		}
		return v.Str, nil
	case value.KindInvalid:
		return nil, fault(ErrUseOfFreedString, "uninitialized value")
	default:
		return nil, fault(ErrTypeMismatch, "expected string, got %s", v.Kind)
	}
}

func released(err error) *Fault {
	if errors.Is(err, strobj.ErrReleased) {
		return fault(ErrUseOfFreedString, "%v", err)
	}
	return fault(ErrTypeMismatch, "%v", err)
}
