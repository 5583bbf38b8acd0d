package nn

// Stack is the LIFO that threads values between sublayers. The top of the
// stack corresponds to the leftmost value of a tuple.
type Stack[T any] struct {
	items []T // items[len-1] is the top
}

// NewStack returns a stack holding vals, vals[0] on top.
func NewStack[T any](vals ...T) *Stack[T] {
	s := &Stack[T]{items: make([]T, 0, len(vals))}
	s.Push(vals...)
	return s
}

// Len reports the number of held values.
func (s *Stack[T]) Len() int { return len(s.items) }

// Push places vals on the stack so that vals[0] ends up on top.
func (s *Stack[T]) Push(vals ...T) {
	for i := len(vals) - 1; i >= 0; i-- {
		s.items = append(s.items, vals[i])
	}
}

// Pop removes the top n values and returns them in left-to-right order.
func (s *Stack[T]) Pop(n int) ([]T, error) {
	if n > len(s.items) {
		return nil, &StackUnderflowError{Layer: "stack", Want: n, Have: len(s.items)}
	}
	out := make([]T, n)
	top := len(s.items) - 1
	for i := 0; i < n; i++ {
		out[i] = s.items[top-i]
	}
	var zero T
	for i := len(s.items) - n; i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = s.items[:len(s.items)-n]
	return out, nil
}

// Values returns the contents top-first without modifying the stack.
func (s *Stack[T]) Values() []T {
	out := make([]T, len(s.items))
	for i := range out {
		out[i] = s.items[len(s.items)-1-i]
	}
	return out
}
