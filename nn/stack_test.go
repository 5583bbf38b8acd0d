package nn

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStackOrder(t *testing.T) {
	s := NewStack(1, 2, 3)
	if s.Len() != 3 {
		t.Fatalf("expected 3 values, got %d", s.Len())
	}
	if diff := cmp.Diff([]int{1, 2, 3}, s.Values()); diff != "" {
		t.Fatalf("Values mismatch (-want +got):\n%s", diff)
	}
	top, err := s.Pop(2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2}, top); diff != "" {
		t.Fatalf("Pop mismatch (-want +got):\n%s", diff)
	}
	s.Push(7, 8)
	if diff := cmp.Diff([]int{7, 8, 3}, s.Values()); diff != "" {
		t.Fatalf("after Push (-want +got):\n%s", diff)
	}
}

func TestStackUnderflow(t *testing.T) {
	s := NewStack[any]("a")
	_, err := s.Pop(2)
	if !errors.Is(err, ErrStackUnderflow) || !errors.Is(err, ErrArity) {
		t.Fatalf("expected stack underflow arity error, got %v", err)
	}
	var ue *StackUnderflowError
	if !errors.As(err, &ue) || ue.Want != 2 || ue.Have != 1 {
		t.Fatalf("unexpected error detail %+v", ue)
	}
	if s.Len() != 1 {
		t.Fatalf("failed pop must not consume values, have %d", s.Len())
	}
}

func TestStackPopZero(t *testing.T) {
	s := NewStack(1)
	vals, err := s.Pop(0)
	if err != nil || len(vals) != 0 || s.Len() != 1 {
		t.Fatalf("Pop(0) = %v, %v; len %d", vals, err, s.Len())
	}
}
