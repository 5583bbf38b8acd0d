package layers

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// combine is an n→1 layer over same-shaped plaintext tensors.
type combine struct {
	nn.Base
	f func(ts []*tensor.Tensor) (*tensor.Tensor, error)
}

func newCombine(name string, n int, f func([]*tensor.Tensor) (*tensor.Tensor, error)) *combine {
	c := &combine{f: f}
	c.Base = nn.NewBase(name, n, 1)
	return c
}

func (c *combine) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	ts, err := tensors(c.Name(), inputs)
	if err != nil {
		return nil, nil, err
	}
	out, err := c.f(ts)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", c.Name(), err)
	}
	return []any{out}, state, nil
}

// Add sums the top two values.
func Add() nn.Layer {
	return newCombine("Add", 2, func(ts []*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Add(ts[0], ts[1])
	})
}

// SubtractTop subtracts the top value from the one below it.
func SubtractTop() nn.Layer {
	return newCombine("SubtractTop", 2, func(ts []*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Sub(ts[1], ts[0])
	})
}

// Multiply is the elementwise product of the top two values.
func Multiply() nn.Layer {
	return newCombine("Multiply", 2, func(ts []*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Mul(ts[0], ts[1])
	})
}

// Concatenate joins the top n values along their last axis.
func Concatenate(n int) nn.Layer {
	return newCombine("Concatenate", n, func(ts []*tensor.Tensor) (*tensor.Tensor, error) {
		return tensor.Concatenate(ts...)
	})
}

// MulConstant multiplies its input by c.
func MulConstant(c float64) nn.Layer {
	return newElementwise(fmt.Sprintf("MulConstant_%g", c), func(v float64) float64 { return c * v })
}

// meanLayer averages over one axis.
type meanLayer struct {
	nn.Base
	axis int
}

// Mean averages over axis; negative axes count from the end.
func Mean(axis int) nn.Layer {
	m := &meanLayer{axis: axis}
	m.Base = nn.NewBase("Mean", 1, 1)
	return m
}

func (m *meanLayer) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(m.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	out, err := tensor.Mean(x, m.axis)
	if err != nil {
		return nil, nil, err
	}
	return []any{out}, state, nil
}
