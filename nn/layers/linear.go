package layers

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// Dense is a fully-connected layer: y = x·W + b over the last axis.
type Dense struct {
	nn.Base
	units int
}

// NewDense maps the last axis of its input to units features.
func NewDense(units int) *Dense {
	d := &Dense{units: units}
	var opts []nn.Option
	if units <= 0 {
		opts = append(opts, nn.WithError(fmt.Errorf("Dense: units must be positive, got %d", units)))
	}
	d.Base = nn.NewBase(fmt.Sprintf("Dense_%d", units), 1, 1, append(opts, nn.WithWeights())...)
	return d
}

func (d *Dense) Units() int { return d.units }

// NewParamsAndState draws W [in, units] from the Glorot uniform distribution
// and b [units] from a normal distribution with stddev 1e-6.
func (d *Dense) NewParamsAndState(sigs []tensor.ShapeDtype, key prng.Key) (*nn.Tree, *nn.Tree, error) {
	sd := sigs[0]
	if err := plainSig(d.Name(), sd); err != nil {
		return nil, nil, err
	}
	if len(sd.Shape) == 0 {
		return nil, nil, fmt.Errorf("%s: input must have a feature axis", d.Name())
	}
	in := sd.Shape[len(sd.Shape)-1]
	kw, kb := prng.Split(key)
	w := prng.GlorotUniform(kw, in, d.units)
	b := prng.Normal(kb, 1e-6, d.units)
	return nn.Leaf(w, b), &nn.Tree{}, nil
}

func (d *Dense) Forward(inputs []any, params, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(d.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	if x.Rank() == 0 {
		return nil, nil, fmt.Errorf("%s: input must have a feature axis", d.Name())
	}
	w, b := params.Leaf(0), params.Leaf(1)
	rows, cols := x.Rows()
	flat, err := x.Reshape(rows, cols)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.MatMul(flat, w)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < d.units; c++ {
			y.Data[r*d.units+c] += b.Data[c]
		}
	}
	out, err := y.Reshape(d.outShape(x.Shape)...)
	if err != nil {
		return nil, nil, err
	}
	return []any{out}, state, nil
}

func (d *Dense) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := plainSig(d.Name(), in[0]); err != nil {
		return nil, err
	}
	if len(in[0].Shape) == 0 {
		return nil, fmt.Errorf("%s: input must have a feature axis", d.Name())
	}
	return []tensor.ShapeDtype{tensor.Sig(d.outShape(in[0].Shape)...)}, nil
}

func (d *Dense) outShape(in []int) []int {
	return append(append([]int(nil), in[:len(in)-1]...), d.units)
}
