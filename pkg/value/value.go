package value

import (
	"fmt"
	"strconv"

	"stackvm/pkg/strobj"
)

type Kind uint8

const (
	KindInvalid Kind = iota // uninitialized or released slot
	KindInt
	KindBool
	KindString
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a tagged machine value. The zero Value is Invalid.
type Value struct {
	Kind Kind
	I32  int32
	Bool bool
	Str  *strobj.Object
}

// Int creates an integer Value.
func Int(i int32) Value {
	return Value{Kind: KindInt, I32: i}
}

// Boolean creates a boolean Value.
func Boolean(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// String creates a Value referring to o. The value does not own o; ownership
// is tracked by the slot that will eventually release it.
func String(o *strobj.Object) Value {
	return Value{Kind: KindString, Str: o}
}

// Invalid is the uninitialized value.
var Invalid = Value{}

// Live reports whether v can be read: it is not Invalid and, for strings,
// its object has not been released.
func (v Value) Live() bool {
	switch v.Kind {
	case KindInt, KindBool:
		return true
	case KindString:
		return !v.Str.Released()
	default:
		return false
	}
}

// Text renders the value the way PRINT does: decimal ints, true/false, raw
// string bytes.
func (v Value) Text() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(int64(v.I32), 10)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindString:
		return v.Str.String()
	default:
		return "?"
	}
}

// Format renders the value for traces: strings are double-quoted, Invalid
// and released strings are "?".
func (v Value) Format() string {
	if !v.Live() {
		return "?"
	}
	if v.Kind == KindString {
		return `"` + v.Str.String() + `"`
	}
	return v.Text()
}

// GoString is used by %#v in test failures.
func (v Value) GoString() string {
	return fmt.Sprintf("value.Value{%s %s}", v.Kind, v.Format())
}
