package vm

import "stackvm/pkg/value"

// Frame is an activation record: arguments in the low slots, locals after.
type Frame struct {
	Name       string        // function name for this frame
	NArgs      int           // argument count
	NLocals    int           // locals declared by LOCALS
	Locals     []value.Value // len == NArgs+NLocals
	ReturnAddr int           // address to continue at after RET
}

func newFrame(name string, nargs, returnAddr int) *Frame {
	return &Frame{
		Name:       name,
		NArgs:      nargs,
		Locals:     make([]value.Value, nargs),
		ReturnAddr: returnAddr,
	}
}

// declare sets the local count, keeping the values of surviving slots.
// New slots start Invalid.
func (f *Frame) declare(n int) {
	size := f.NArgs + n
	if size <= cap(f.Locals) {
		old := len(f.Locals)
		f.Locals = f.Locals[:size]
		if size > old {
			clear(f.Locals[old:])
		}
	} else {
		locals := make([]value.Value, size)
		copy(locals, f.Locals)
		f.Locals = locals
	}
	f.NLocals = n
}

// slot returns a pointer to local i, or nil when i is out of range.
func (f *Frame) slot(i int) *value.Value {
	if i < 0 || i >= len(f.Locals) {
		return nil
	}
	return &f.Locals[i]
}
