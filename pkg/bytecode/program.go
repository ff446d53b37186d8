package bytecode

// Function is an entry in the function table.
type Function struct {
	Addr int    `cbor:"1,keyasint"` // entry address in Code
	Name string `cbor:"2,keyasint"`
}

// Program is the loaded, read-only input of a run.
type Program struct {
	Code      []byte     `cbor:"1,keyasint"`
	Constants []string   `cbor:"2,keyasint"` // string pool, indexed by constant id
	Functions []Function `cbor:"3,keyasint"`
}

// FunctionAt returns the function whose entry address is addr.
func (p *Program) FunctionAt(addr int) (Function, bool) {
	for _, fn := range p.Functions {
		if fn.Addr == addr {
			return fn, true
		}
	}
	return Function{}, false
}

// Entry returns the function execution starts in: the one named "main" if
// present, otherwise function 0. A program with an empty function table
// starts at address 0 in a frame called "main".
func (p *Program) Entry() Function {
	for _, fn := range p.Functions {
		if fn.Name == "main" {
			return fn
		}
	}
	if len(p.Functions) > 0 {
		return p.Functions[0]
	}
	return Function{Addr: 0, Name: "main"}
}
