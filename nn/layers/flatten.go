package layers

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// Flatten keeps the leading axes and merges the rest into one.
type Flatten struct {
	nn.Base
	keep int
}

// NewFlatten keeps keep leading axes; NewFlatten(1) turns [B, H, W] into
// [B, H*W].
func NewFlatten(keep int) *Flatten {
	f := &Flatten{keep: keep}
	var opts []nn.Option
	if keep < 0 {
		opts = append(opts, nn.WithError(fmt.Errorf("Flatten: cannot keep %d axes", keep)))
	}
	f.Base = nn.NewBase("Flatten", 1, 1, opts...)
	return f
}

func (f *Flatten) shape(in []int) ([]int, error) {
	if f.keep > len(in) {
		return nil, fmt.Errorf("%s: cannot keep %d axes of shape %v", f.Name(), f.keep, in)
	}
	rest := 1
	for _, d := range in[f.keep:] {
		rest *= d
	}
	return append(append([]int(nil), in[:f.keep]...), rest), nil
}

func (f *Flatten) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(f.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	shape, err := f.shape(x.Shape)
	if err != nil {
		return nil, nil, err
	}
	y, err := x.Clone().Reshape(shape...)
	if err != nil {
		return nil, nil, err
	}
	return []any{y}, state, nil
}

func (f *Flatten) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := plainSig(f.Name(), in[0]); err != nil {
		return nil, err
	}
	shape, err := f.shape(in[0].Shape)
	if err != nil {
		return nil, err
	}
	return []tensor.ShapeDtype{tensor.Sig(shape...)}, nil
}
