// Package layers holds the leaf layers models are built from. Every layer
// embeds nn.Base and runs inside the nn stack runtime.
package layers

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

func asTensor(layer string, v any) (*tensor.Tensor, error) {
	t, ok := v.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%s: expects *tensor.Tensor, got %T", layer, v)
	}
	return t, nil
}

func tensors(layer string, vs []any) ([]*tensor.Tensor, error) {
	out := make([]*tensor.Tensor, len(vs))
	for i, v := range vs {
		t, err := asTensor(layer, v)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func plainSig(layer string, sd tensor.ShapeDtype) error {
	if sd.Dtype != tensor.Float64 {
		return fmt.Errorf("%s: expects %s input, got %s", layer, tensor.Float64, sd.Dtype)
	}
	return nil
}

// elementwise applies f to every element of one tensor.
type elementwise struct {
	nn.Base
	f func(float64) float64
}

func newElementwise(name string, f func(float64) float64) *elementwise {
	e := &elementwise{f: f}
	e.Base = nn.NewBase(name, 1, 1)
	return e
}

func (e *elementwise) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(e.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	return []any{tensor.Map(x, e.f)}, state, nil
}

func (e *elementwise) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := plainSig(e.Name(), in[0]); err != nil {
		return nil, err
	}
	return in, nil
}
