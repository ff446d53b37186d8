package vm

// Stack is a bounded LIFO. Push reports false instead of growing past its
// limit; Pop and Peek report false when empty.
type Stack[T any] struct {
	a     []T
	limit int
}

// NewStack creates a stack holding at most limit elements. The backing
// array is pre-sized up to a small capacity and grows on demand.
func NewStack[T any](limit int) *Stack[T] {
	return &Stack[T]{
		a:     make([]T, 0, min(limit, 64)),
		limit: limit,
	}
}

// Push adds an element to the top of the stack
func (s *Stack[T]) Push(elm T) bool {
	if len(s.a) >= s.limit {
		return false
	}
	s.a = append(s.a, elm)
	return true
}

// Pop removes and returns the top element of the stack
func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if len(s.a) == 0 {
		return zero, false
	}

	elm := s.a[len(s.a)-1]
	s.a[len(s.a)-1] = zero
	s.a = s.a[:len(s.a)-1]

	return elm, true
}

// Peek returns the top element of the stack without removing it
func (s *Stack[T]) Peek() (T, bool) {
	if len(s.a) == 0 {
		var zero T
		return zero, false
	}

	return s.a[len(s.a)-1], true
}

// Size returns the number of elements.
func (s *Stack[T]) Size() int {
	return len(s.a)
}

// Top returns the index of the top element, -1 when empty.
func (s *Stack[T]) Top() int {
	return len(s.a) - 1
}

// Limit returns the capacity bound.
func (s *Stack[T]) Limit() int {
	return s.limit
}

// Array returns the elements bottom to top. The slice aliases the stack.
func (s *Stack[T]) Array() []T {
	return s.a
}

// Reset empties the stack.
func (s *Stack[T]) Reset() {
	clear(s.a)
	s.a = s.a[:0]
}
