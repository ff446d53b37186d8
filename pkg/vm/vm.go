package vm

import (
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"stackvm/pkg/bytecode"
	"stackvm/pkg/strobj"
	"stackvm/pkg/trace"
	"stackvm/pkg/value"
)

const (
	DefaultStackLimit = 1000
	DefaultCallLimit  = 100
)

// Machine executes one Program. It is not safe for concurrent use; each run
// owns its stacks, heap, output and trace.
type Machine struct {
	prog *bytecode.Program
	ip   int // address of the next instruction

	stack *Stack[value.Value] // operand stack
	calls *Stack[*Frame]      // call stack
	heap  *strobj.Heap

	out  strings.Builder // accumulated PRINT output
	echo io.Writer       // optional live copy of the output

	tracer trace.Sink
	frames []trace.Frame // reused snapshot buffer

	stackLimit int
	callLimit  int
	maxSteps   int // maximum steps (0 = unlimited)
	steps      int // steps executed

	halted bool
	err    error
}

type Option func(*Machine)

// WithWriter streams PRINT output to w as well as accumulating it.
func WithWriter(w io.Writer) Option {
	return func(m *Machine) { m.echo = w }
}

// WithTrace adds a trace sink. Several sinks may be installed.
func WithTrace(s trace.Sink) Option {
	return func(m *Machine) {
		switch {
		case s == nil:
		case m.tracer == nil:
			m.tracer = s
		default:
			m.tracer = trace.Tee{m.tracer, s}
		}
	}
}

// WithStackLimit bounds the operand stack.
func WithStackLimit(n int) Option {
	return func(m *Machine) { m.stackLimit = n }
}

// WithCallLimit bounds the call stack, main frame included.
func WithCallLimit(n int) Option {
	return func(m *Machine) { m.callLimit = n }
}

// WithMaxSteps sets a maximum number of executed instructions before
// returning ErrMaxStepsExceeded.
func WithMaxSteps(n int) Option {
	return func(m *Machine) { m.maxSteps = n }
}

// New creates a Machine ready to run prog from its entry function.
func New(prog *bytecode.Program, opts ...Option) *Machine {
	m := &Machine{
		prog:       prog,
		stackLimit: DefaultStackLimit,
		callLimit:  DefaultCallLimit,
	}

	for _, o := range opts {
		o(m)
	}

	m.Reset()
	return m
}

// Reset clears runtime state and pushes the entry frame. Installed options
// are kept.
func (m *Machine) Reset() {
	m.stack = NewStack[value.Value](m.stackLimit)
	m.calls = NewStack[*Frame](m.callLimit)
	m.heap = strobj.NewHeap()
	m.out.Reset()
	m.steps = 0
	m.halted = false
	m.err = nil

	entry := m.prog.Entry()
	m.ip = entry.Addr
	if !m.calls.Push(newFrame(entry.Name, 0, len(m.prog.Code))) {
		m.fail(&Fault{Err: ErrCallStackOverflow, IP: entry.Addr, Detail: "no room for the entry frame"})
	}
}

// Step executes a single instruction, returning (halted, error). After a
// fault every further Step returns the same error.
func (m *Machine) Step() (bool, error) {
	if m.err != nil {
		return true, m.err
	}
	if m.halted {
		return true, nil
	}

	if m.ip >= len(m.prog.Code) {
		m.halted = true
		return true, nil
	}

	in, err := bytecode.Decode(m.prog.Code, m.ip)
	if err != nil {
		kind := ErrTruncatedInstruction
		if errors.Is(err, bytecode.ErrUnknownOpcode) {
			kind = ErrInvalidOpcode
		}
		return true, m.fail(&Fault{Err: kind, IP: m.ip, Op: in.Op, Detail: err.Error()})
	}

	if m.maxSteps > 0 && m.steps >= m.maxSteps {
		return true, m.fail(&Fault{Err: ErrMaxStepsExceeded, IP: in.Addr, Op: in.Op})
	}
	m.steps++

	f := m.checkPops(in)
	if f == nil {
		m.ip = in.Next()
		f = m.exec(in)
	}
	if f != nil {
		f.IP, f.Op = in.Addr, in.Op
		m.ip = in.Addr
		return true, m.fail(f)
	}

	if m.tracer != nil {
		m.tracer.Record(in, m.snapshot())
	}

	return m.halted, nil
}

// Run executes until halt, end of code, or a fault.
func (m *Machine) Run() error {
	for {
		halted, err := m.Step()
		if err != nil {
			return err
		}

		if halted {
			return nil
		}
	}
}

func (m *Machine) fail(f *Fault) error {
	log.Debug("fault", "err", f, "steps", m.steps)
	m.err = f
	m.halted = true
	return f
}

func (m *Machine) snapshot() trace.Snapshot {
	m.frames = m.frames[:0]
	for _, f := range m.calls.Array() {
		m.frames = append(m.frames, trace.Frame{Name: f.Name, Slots: f.Locals})
	}
	return trace.Snapshot{Frames: m.frames, Stack: m.stack.Array()}
}

// IP returns the address of the next instruction, or of the faulting one.
func (m *Machine) IP() int {
	return m.ip
}

// Output returns everything printed so far.
func (m *Machine) Output() string {
	return m.out.String()
}

// Halted reports whether execution has stopped.
func (m *Machine) Halted() bool {
	return m.halted
}

// Steps returns the number of instructions executed.
func (m *Machine) Steps() int {
	return m.steps
}

// Stack returns the operand stack bottom to top. The slice aliases machine
// state.
func (m *Machine) Stack() []value.Value {
	return m.stack.Array()
}

// Frames returns the call stack outermost first.
func (m *Machine) Frames() []*Frame {
	return m.calls.Array()
}

// LiveStrings returns how many strings were allocated and never released.
func (m *Machine) LiveStrings() int {
	return m.heap.Live()
}

// Result is the outcome of Exec.
type Result struct {
	Output      string
	Trace       string
	LiveStrings int
	Steps       int
}

// Exec runs prog to completion. When traced is set the trace text is
// collected into the Result. On a fault the Result holds whatever was
// produced before it.
func Exec(prog *bytecode.Program, traced bool, opts ...Option) (Result, error) {
	var buf *trace.Buffer
	if traced {
		buf = &trace.Buffer{}
		opts = append(opts, WithTrace(buf))
	}

	m := New(prog, opts...)
	err := m.Run()

	res := Result{
		Output:      m.Output(),
		LiveStrings: m.LiveStrings(),
		Steps:       m.Steps(),
	}
	if buf != nil {
		res.Trace = buf.String()
	}
	return res, err
}
