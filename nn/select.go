package nn

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/tensor"
)

// selectLayer copies, reorders or drops the top nIn stack values.
type selectLayer struct {
	Base
	indices []int
}

// Select pops nIn values and pushes the values at indices, in order. Indices
// may repeat. A negative nIn means max(indices)+1.
func Select(indices []int, nIn int) Layer {
	if nIn < 0 {
		nIn = 0
		for _, i := range indices {
			nIn = max(nIn, i+1)
		}
	}
	var opts []Option
	for _, i := range indices {
		if i < 0 || i >= nIn {
			opts = append(opts, WithError(&ArityError{Layer: "Select",
				Reason: fmt.Sprintf("index %d out of range for %d inputs", i, nIn)}))
			break
		}
	}
	s := &selectLayer{indices: append([]int(nil), indices...)}
	s.Base = NewBase("Select", nIn, len(indices), opts...)
	return s
}

func (s *selectLayer) Forward(inputs []any, _, state *Tree, _ prng.Key) ([]any, *Tree, error) {
	out := make([]any, len(s.indices))
	for j, i := range s.indices {
		out[j] = inputs[i]
	}
	return out, state, nil
}

func (s *selectLayer) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	out := make([]tensor.ShapeDtype, len(s.indices))
	for j, i := range s.indices {
		out[j] = in[i]
	}
	return out, nil
}

// Dup duplicates the top value.
func Dup() Layer { return named("Dup", Select([]int{0, 0}, 1)) }

// Swap exchanges the top two values.
func Swap() Layer { return named("Swap", Select([]int{1, 0}, 2)) }

// Drop discards the top value.
func Drop() Layer { return named("Drop", Select(nil, 1)) }

// NoOp passes one value through.
func NoOp() Layer { return named("NoOp", Select([]int{0}, 1)) }

func named(name string, l Layer) Layer {
	Rename(l, name)
	return l
}
