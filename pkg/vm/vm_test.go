package vm_test

import (
	"errors"
	"strings"
	"testing"

	"stackvm/pkg/bytecode"
	"stackvm/pkg/value"
	"stackvm/pkg/vm"
)

// assemble builds a program whose only function is main at address 0.
func assemble(t *testing.T, emit func(b *bytecode.Builder), constants ...string) *bytecode.Program {
	t.Helper()
	b := bytecode.NewBuilder()
	emit(b)
	code, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	return &bytecode.Program{
		Code:      code,
		Constants: constants,
		Functions: []bytecode.Function{{Addr: 0, Name: "main"}},
	}
}

func TestIntegerOps(t *testing.T) {
	tests := []struct {
		name     string
		x, y     int64
		op       bytecode.Opcode
		expected string
	}{
		{"add", 3, 4, bytecode.IADD, "7\n"},
		{"sub", 3, 4, bytecode.ISUB, "-1\n"},
		{"mul", 6, -7, bytecode.IMUL, "-42\n"},
		{"div", 10, 4, bytecode.IDIV, "2\n"},
		{"div truncates toward zero", -7, 2, bytecode.IDIV, "-3\n"},
		{"add wraps", 2147483647, 1, bytecode.IADD, "-2147483648\n"},
		{"lt", 3, 4, bytecode.ILT, "true\n"},
		{"le", 4, 4, bytecode.ILE, "true\n"},
		{"gt", 3, 4, bytecode.IGT, "false\n"},
		{"ge", 3, 4, bytecode.IGE, "false\n"},
		{"eq", 4, 4, bytecode.IEQ, "true\n"},
		{"neq", 4, 4, bytecode.INEQ, "false\n"},
	}

	for _, test := range tests {
		prog := assemble(t, func(b *bytecode.Builder) {
			b.MustEmit(bytecode.ICONST, test.x).
				MustEmit(bytecode.ICONST, test.y).
				MustEmit(test.op).
				MustEmit(bytecode.PRINT).
				MustEmit(bytecode.HALT)
		})
		res, err := vm.Exec(prog, false)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if res.Output != test.expected {
			t.Errorf("%s: expected %q, got %q", test.name, test.expected, res.Output)
		}
	}
}

func TestUnaryAndLogic(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		// true: 1 == 1, false: 1 == 2
		tru := func() { b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.IEQ) }
		fls := func() { b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.ICONST, 2).MustEmit(bytecode.IEQ) }

		tru()
		fls()
		b.MustEmit(bytecode.OR).MustEmit(bytecode.PRINT)
		tru()
		fls()
		b.MustEmit(bytecode.AND).MustEmit(bytecode.PRINT)
		fls()
		b.MustEmit(bytecode.NOT).MustEmit(bytecode.PRINT)
		b.MustEmit(bytecode.ICONST, 5).MustEmit(bytecode.INEG).MustEmit(bytecode.PRINT)
		b.MustEmit(bytecode.ICONST, -2147483648).MustEmit(bytecode.INEG).MustEmit(bytecode.PRINT)
		b.MustEmit(bytecode.HALT)
	})

	res, err := vm.Exec(prog, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "true\nfalse\ntrue\n-5\n-2147483648\n"
	if res.Output != expected {
		t.Errorf("expected %q, got %q", expected, res.Output)
	}
}

func TestStrings(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		b.MustEmit(bytecode.LOCALS, 3)
		b.MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.STORE, 0)
		b.MustEmit(bytecode.ICONST, -12).MustEmit(bytecode.I2S).MustEmit(bytecode.STORE, 1)
		b.MustEmit(bytecode.LOAD, 0).MustEmit(bytecode.LOAD, 1).MustEmit(bytecode.SADD).MustEmit(bytecode.STORE, 2)
		b.MustEmit(bytecode.LOAD, 2).MustEmit(bytecode.PRINT)
		b.MustEmit(bytecode.LOAD, 2).MustEmit(bytecode.SLEN).MustEmit(bytecode.PRINT)
		b.MustEmit(bytecode.SFREE, 0).MustEmit(bytecode.SFREE, 1).MustEmit(bytecode.SFREE, 2)
		b.MustEmit(bytecode.HALT)
	}, "n=")

	res, err := vm.Exec(prog, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "n=-12\n5\n" {
		t.Errorf("expected %q, got %q", "n=-12\n5\n", res.Output)
	}
	if res.LiveStrings != 0 {
		t.Errorf("expected every string released, %d live", res.LiveStrings)
	}
}

func TestLiveStrings(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		b.MustEmit(bytecode.LOCALS, 1)
		b.MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.STORE, 0)
		b.MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.PRINT)
		b.MustEmit(bytecode.HALT)
	}, "leak")

	res, err := vm.Exec(prog, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LiveStrings != 2 {
		t.Errorf("expected 2 live strings, got %d", res.LiveStrings)
	}
}

func TestCallArguments(t *testing.T) {
	b := bytecode.NewBuilder()
	b.MustEmit(bytecode.ICONST, 99).MustEmit(bytecode.ICONST, 100)
	if err := b.EmitJump(bytecode.CALL, "foo", 2); err != nil {
		t.Fatal(err)
	}
	b.MustEmit(bytecode.PRINT).MustEmit(bytecode.HALT)
	foo := b.Len()
	b.Mark("foo")
	b.MustEmit(bytecode.LOAD, 0).MustEmit(bytecode.PRINT)
	b.MustEmit(bytecode.LOAD, 1).MustEmit(bytecode.PRINT)
	b.MustEmit(bytecode.ICONST, 101).MustEmit(bytecode.RET)
	code, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	prog := &bytecode.Program{
		Code:      code,
		Functions: []bytecode.Function{{Addr: 0, Name: "main"}, {Addr: foo, Name: "foo"}},
	}
	m := vm.New(prog)
	for i := 0; i < 3; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	frames := m.Frames()
	if len(frames) != 2 || frames[1].Name != "foo" {
		t.Fatalf("expected main and foo frames, got %d", len(frames))
	}
	args := frames[1].Locals
	if len(args) != 2 || args[0] != value.Int(99) || args[1] != value.Int(100) {
		t.Errorf("expected foo=[ 99 100 ], got %#v", args)
	}
	if len(m.Stack()) != 0 {
		t.Errorf("arguments should be moved off the operand stack")
	}
	if m.IP() != foo {
		t.Errorf("expected ip %d, got %d", foo, m.IP())
	}
	if frames[1].ReturnAddr != 17 {
		t.Errorf("expected return address 17, got %d", frames[1].ReturnAddr)
	}

	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if m.Output() != "99\n100\n101\n" {
		t.Errorf("unexpected output %q", m.Output())
	}
}

func TestLocalsResize(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		b.MustEmit(bytecode.LOCALS, 1)
		b.MustEmit(bytecode.ICONST, 7).MustEmit(bytecode.STORE, 0)
		b.MustEmit(bytecode.LOCALS, 3)
		b.MustEmit(bytecode.HALT)
	})

	m := vm.New(prog)
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	locals := m.Frames()[0].Locals
	if len(locals) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(locals))
	}
	if locals[0] != value.Int(7) || locals[1].Kind != value.KindInvalid || locals[2].Kind != value.KindInvalid {
		t.Errorf("unexpected slots %#v", locals)
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name      string
		emit      func(b *bytecode.Builder)
		constants []string
		opts      []vm.Option
		kind      error
		ip        int
	}{
		{
			name: "division by zero",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.ICONST, 0).MustEmit(bytecode.IDIV)
			},
			kind: vm.ErrDivisionByZero, ip: 10,
		},
		{
			name: "empty stack",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.IADD) },
			kind: vm.ErrStackUnderflow, ip: 0,
		},
		{
			name: "not on int",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.NOT) },
			kind: vm.ErrTypeMismatch, ip: 5,
		},
		{
			name: "brf on int",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.BRF, 0) },
			kind: vm.ErrTypeMismatch, ip: 5,
		},
		{
			name: "sadd on int",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.ICONST, 2).MustEmit(bytecode.SADD)
			},
			kind: vm.ErrTypeMismatch, ip: 10,
		},
		{
			name: "local out of range",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.LOAD, 0) },
			kind: vm.ErrInvalidLocalIndex, ip: 0,
		},
		{
			name: "negative local",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.LOCALS, 1).MustEmit(bytecode.LOAD, -1) },
			kind: vm.ErrInvalidLocalIndex, ip: 3,
		},
		{
			name: "load uninitialized",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.LOCALS, 1).MustEmit(bytecode.LOAD, 0) },
			kind: vm.ErrUseOfFreedString, ip: 3,
		},
		{
			name: "load after free",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.LOCALS, 1).MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.STORE, 0)
				b.MustEmit(bytecode.SFREE, 0).MustEmit(bytecode.LOAD, 0)
			},
			constants: []string{"hello"},
			kind:      vm.ErrUseOfFreedString, ip: 12,
		},
		{
			name: "print alias after free",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.LOCALS, 1).MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.STORE, 0)
				b.MustEmit(bytecode.LOAD, 0).MustEmit(bytecode.SFREE, 0).MustEmit(bytecode.PRINT)
			},
			constants: []string{"hello"},
			kind:      vm.ErrUseOfFreedString, ip: 15,
		},
		{
			name: "double free",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.LOCALS, 1).MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.STORE, 0)
				b.MustEmit(bytecode.SFREE, 0).MustEmit(bytecode.SFREE, 0)
			},
			constants: []string{"hello"},
			kind:      vm.ErrUseOfFreedString, ip: 12,
		},
		{
			name: "free int",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.LOCALS, 1).MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.STORE, 0)
				b.MustEmit(bytecode.SFREE, 0)
			},
			kind: vm.ErrTypeMismatch, ip: 11,
		},
		{
			name: "index past end",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.ICONST, 6).MustEmit(bytecode.SINDEX)
			},
			constants: []string{"hello"},
			kind:      vm.ErrStringIndexOutOfRange, ip: 8,
		},
		{
			name: "index zero",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.ICONST, 0).MustEmit(bytecode.SINDEX)
			},
			constants: []string{"hello"},
			kind:      vm.ErrStringIndexOutOfRange, ip: 8,
		},
		{
			name: "bad constant",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.SCONST, 3) },
			kind: vm.ErrInvalidOperand, ip: 0,
		},
		{
			name: "negative locals",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.LOCALS, -1) },
			kind: vm.ErrInvalidOperand, ip: 0,
		},
		{
			name: "return from main",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.RET) },
			kind: vm.ErrCallStackUnderflow, ip: 5,
		},
		{
			name: "call into the middle of code",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.CALL, 7, 0).MustEmit(bytecode.HALT) },
			kind: vm.ErrUnknownFunction, ip: 0,
		},
		{
			name: "call past the end",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.CALL, 100, 0) },
			kind: vm.ErrInvalidAddress, ip: 0,
		},
		{
			name: "branch past the end",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.BR, 100) },
			kind: vm.ErrInvalidAddress, ip: 0,
		},
		{
			name: "operand stack limit",
			emit: func(b *bytecode.Builder) {
				b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.ICONST, 2).MustEmit(bytecode.ICONST, 3)
			},
			opts: []vm.Option{vm.WithStackLimit(2)},
			kind: vm.ErrStackOverflow, ip: 10,
		},
		{
			name: "unbounded recursion",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.CALL, 0, 0) },
			opts: []vm.Option{vm.WithCallLimit(5)},
			kind: vm.ErrCallStackOverflow, ip: 0,
		},
		{
			name: "infinite loop",
			emit: func(b *bytecode.Builder) { b.MustEmit(bytecode.BR, 0) },
			opts: []vm.Option{vm.WithMaxSteps(10)},
			kind: vm.ErrMaxStepsExceeded, ip: 0,
		},
	}

	for _, test := range tests {
		prog := assemble(t, test.emit, test.constants...)
		m := vm.New(prog, test.opts...)
		err := m.Run()
		if !errors.Is(err, test.kind) {
			t.Errorf("%s: expected %v, got %v", test.name, test.kind, err)
			continue
		}
		var f *vm.Fault
		if !errors.As(err, &f) {
			t.Errorf("%s: expected *vm.Fault, got %T", test.name, err)
			continue
		}
		if f.IP != test.ip || m.IP() != test.ip {
			t.Errorf("%s: expected fault at %d, got %d (machine ip %d)", test.name, test.ip, f.IP, m.IP())
		}
	}
}

func TestCallArgumentUnderflow(t *testing.T) {
	b := bytecode.NewBuilder()
	b.MustEmit(bytecode.CALL, 8, 2).MustEmit(bytecode.HALT)
	b.MustEmit(bytecode.ICONST, 0).MustEmit(bytecode.RET)
	code, _ := b.Bytes()
	prog := &bytecode.Program{
		Code:      code,
		Functions: []bytecode.Function{{Addr: 0, Name: "main"}, {Addr: 8, Name: "f"}},
	}

	_, err := vm.Exec(prog, false)
	if !errors.Is(err, vm.ErrStackUnderflow) {
		t.Errorf("expected ErrStackUnderflow, got %v", err)
	}
}

func TestDecodeFaults(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		kind error
	}{
		{"unknown opcode", []byte{0xEE}, vm.ErrInvalidOpcode},
		{"truncated operand", []byte{byte(bytecode.ICONST), 1}, vm.ErrTruncatedInstruction},
	}

	for _, test := range tests {
		_, err := vm.Exec(&bytecode.Program{Code: test.code}, false)
		if !errors.Is(err, test.kind) {
			t.Errorf("%s: expected %v, got %v", test.name, test.kind, err)
		}
	}
}

func TestFaultIsSticky(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.ICONST, 0).MustEmit(bytecode.IDIV)
	})
	m := vm.New(prog)

	err := m.Run()
	if err == nil {
		t.Fatal("expected a fault")
	}
	if msg := err.Error(); msg != "division by zero at ip=10 (IDIV): 1 / 0" {
		t.Errorf("unexpected message %q", msg)
	}

	halted, again := m.Step()
	if !halted || again != err {
		t.Errorf("Step after a fault should return the same error, got %v", again)
	}
	if m.Steps() != 3 {
		t.Errorf("expected 3 steps, got %d", m.Steps())
	}
}

func TestFaultTrace(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		b.MustEmit(bytecode.ICONST, 7).MustEmit(bytecode.PRINT)
		b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.ICONST, 0).MustEmit(bytecode.IDIV)
	})

	res, err := vm.Exec(prog, true)
	if !errors.Is(err, vm.ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if res.Output != "7\n" {
		t.Errorf("output before the fault should be kept, got %q", res.Output)
	}
	lines := strings.Split(strings.TrimSuffix(res.Trace, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 trace lines, got %d:\n%s", len(lines), res.Trace)
	}
	if strings.Contains(res.Trace, "IDIV") {
		t.Errorf("the faulting instruction must not be traced")
	}
}

func TestEndOfCodeHalts(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		b.MustEmit(bytecode.ICONST, 1).MustEmit(bytecode.PRINT)
	})
	res, err := vm.Exec(prog, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "1\n" || res.Steps != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	if _, err := vm.Exec(&bytecode.Program{}, false); err != nil {
		t.Errorf("empty program should halt cleanly, got %v", err)
	}
}

func TestWriterAndReset(t *testing.T) {
	prog := assemble(t, func(b *bytecode.Builder) {
		b.MustEmit(bytecode.SCONST, 0).MustEmit(bytecode.PRINT).MustEmit(bytecode.HALT)
	}, "hi")

	var sb strings.Builder
	m := vm.New(prog, vm.WithWriter(&sb))
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if !m.Halted() {
		t.Errorf("machine should be halted")
	}

	m.Reset()
	if m.Output() != "" || m.Halted() || m.LiveStrings() != 0 {
		t.Errorf("Reset should clear output, halt flag and heap")
	}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if sb.String() != "hi\nhi\n" {
		t.Errorf("expected streamed output from both runs, got %q", sb.String())
	}
}
