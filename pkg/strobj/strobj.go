// Package strobj implements explicitly released string objects.
//
// Every Object has exactly one owner. Nothing is shared or reference
// counted: an Object lives until Release is called on it, and any use after
// that reports ErrReleased instead of returning stale bytes.
package strobj

import (
	"bytes"
	"errors"
	"strconv"
)

var ErrReleased = errors.New("string used after release")

// Object is an immutable byte string with a manual lifetime.
type Object struct {
	id       uint64
	data     []byte
	released bool
}

// ID returns the allocation number, unique within its Heap.
func (o *Object) ID() uint64 {
	if o == nil {
		return 0
	}
	return o.id
}

// Released reports whether the object has been released.
func (o *Object) Released() bool {
	return o == nil || o.released
}

// Bytes returns the contents. The slice must not be modified.
func (o *Object) Bytes() ([]byte, error) {
	if o.Released() {
		return nil, ErrReleased
	}
	return o.data, nil
}

// Len returns the length in bytes.
func (o *Object) Len() (int, error) {
	if o.Released() {
		return 0, ErrReleased
	}
	return len(o.data), nil
}

// At returns the byte at the 1-based position pos.
func (o *Object) At(pos int) (byte, bool, error) {
	if o.Released() {
		return 0, false, ErrReleased
	}
	if pos < 1 || pos > len(o.data) {
		return 0, false, nil
	}
	return o.data[pos-1], true, nil
}

// String returns the contents, or "?" once released.
func (o *Object) String() string {
	if o.Released() {
		return "?"
	}
	return string(o.data)
}

// Heap allocates objects and counts the ones still live.
type Heap struct {
	next uint64
	live map[uint64]*Object
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{live: make(map[uint64]*Object)}
}

func (h *Heap) alloc(data []byte) *Object {
	h.next++
	o := &Object{id: h.next, data: data}
	h.live[o.id] = o
	return o
}

// FromConstant duplicates a pool constant into a new owned object.
func (h *Heap) FromConstant(s string) *Object {
	return h.alloc([]byte(s))
}

// FromInt renders i in decimal.
func (h *Heap) FromInt(i int32) *Object {
	return h.alloc(strconv.AppendInt(nil, int64(i), 10))
}

// FromChar builds a one-byte string.
func (h *Heap) FromChar(c byte) *Object {
	return h.alloc([]byte{c})
}

// Concat allocates a new object holding a followed by b. Neither operand is
// released.
func (h *Heap) Concat(a, b *Object) (*Object, error) {
	if a.Released() || b.Released() {
		return nil, ErrReleased
	}
	data := make([]byte, 0, len(a.data)+len(b.data))
	data = append(data, a.data...)
	data = append(data, b.data...)
	return h.alloc(data), nil
}

// Release frees o. Releasing twice is an error.
func (h *Heap) Release(o *Object) error {
	if o.Released() {
		return ErrReleased
	}
	o.released = true
	o.data = nil
	delete(h.live, o.id)
	return nil
}

// Live returns the number of objects allocated and not yet released.
func (h *Heap) Live() int {
	return len(h.live)
}

// Compare orders two live objects byte-wise: -1, 0 or +1.
func Compare(a, b *Object) (int, error) {
	if a.Released() || b.Released() {
		return 0, ErrReleased
	}
	return bytes.Compare(a.data, b.data), nil
}

// Predicate is one of the six comparison predicates.
type Predicate func(a, b *Object) (bool, error)

func predicate(ok func(c int) bool) Predicate {
	return func(a, b *Object) (bool, error) {
		c, err := Compare(a, b)
		if err != nil {
			return false, err
		}
		return ok(c), nil
	}
}

var (
	Eq  = predicate(func(c int) bool { return c == 0 })
	Neq = predicate(func(c int) bool { return c != 0 })
	Lt  = predicate(func(c int) bool { return c < 0 })
	Le  = predicate(func(c int) bool { return c <= 0 })
	Gt  = predicate(func(c int) bool { return c > 0 })
	Ge  = predicate(func(c int) bool { return c >= 0 })
)
