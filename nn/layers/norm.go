package layers

import (
	"math"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// LayerNorm normalizes each row along the last axis to zero mean and unit
// variance, then applies a learned per-feature scale and bias.
type LayerNorm struct {
	nn.Base
	epsilon float64
}

// NewLayerNorm returns a LayerNorm with epsilon 1e-6.
func NewLayerNorm() *LayerNorm {
	return NewLayerNormEpsilon(1e-6)
}

// NewLayerNormEpsilon sets the value added to the variance before the square
// root.
func NewLayerNormEpsilon(epsilon float64) *LayerNorm {
	l := &LayerNorm{epsilon: epsilon}
	l.Base = nn.NewBase("LayerNorm", 1, 1, nn.WithWeights())
	return l
}

// NewParamsAndState starts with scale ones and bias zeros.
func (l *LayerNorm) NewParamsAndState(sigs []tensor.ShapeDtype, _ prng.Key) (*nn.Tree, *nn.Tree, error) {
	if err := plainSig(l.Name(), sigs[0]); err != nil {
		return nil, nil, err
	}
	shape := sigs[0].Shape
	features := 1
	if len(shape) > 0 {
		features = shape[len(shape)-1]
	}
	scale := tensor.New(features)
	for i := range scale.Data {
		scale.Data[i] = 1
	}
	return nn.Leaf(scale, tensor.New(features)), &nn.Tree{}, nil
}

func (l *LayerNorm) Forward(inputs []any, params, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(l.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	scale, bias := params.Leaf(0), params.Leaf(1)
	means, variances := tensor.RowMeanVariance(x)
	_, cols := x.Rows()
	out := tensor.New(x.Shape...)
	for r := range means {
		inv := 1 / math.Sqrt(variances[r]+l.epsilon)
		for c := 0; c < cols; c++ {
			i := r*cols + c
			out.Data[i] = (x.Data[i]-means[r])*inv*scale.Data[c] + bias.Data[c]
		}
	}
	return []any{out}, state, nil
}

func (l *LayerNorm) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := plainSig(l.Name(), in[0]); err != nil {
		return nil, err
	}
	return in, nil
}
