package layers

import (
	"fmt"
	"math"

	"stacknn/core/ckkswrapper"
	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// Relu zeroes negative elements.
func Relu() nn.Layer {
	return newElementwise("Relu", func(v float64) float64 { return math.Max(v, 0) })
}

// Sigmoid is the logistic function 1/(1+e^-x).
func Sigmoid() nn.Layer {
	return newElementwise("Sigmoid", func(v float64) float64 { return 1 / (1 + math.Exp(-v)) })
}

// Tanh is the hyperbolic tangent.
func Tanh() nn.Layer {
	return newElementwise("Tanh", math.Tanh)
}

// Poly holds the definition of a polynomial approximation.
type Poly struct {
	Name   string
	Coeffs []float64 // Coeffs[i] multiplies x^i
	Levels int       // levels consumed by the encrypted evaluation
}

// Degree is the index of the highest coefficient.
func (p Poly) Degree() int { return len(p.Coeffs) - 1 }

// SupportedPolynomials contains precomputed polynomial approximations.
var SupportedPolynomials = map[string]Poly{
	"ReLU3": {
		Name:   "ReLU3",
		Coeffs: []float64{0.3183099, 0.5, 0.2122066},
		Levels: 2,
	},
	"ReLU3_deriv": {
		Name:   "ReLU3_deriv",
		Coeffs: []float64{0.5, 0.4244},
		Levels: 1,
	},
}

// Activation evaluates a polynomial elementwise. It accepts plaintext tensors
// and, when built with an HE context, ciphertexts, so the same layer can sit
// on either side of an encryption boundary.
type Activation struct {
	nn.Base
	poly  Poly
	heCtx *ckkswrapper.HeContext
}

// NewActivation creates a polynomial activation. heCtx may be nil for a
// plaintext-only layer.
func NewActivation(polyName string, heCtx *ckkswrapper.HeContext) (*Activation, error) {
	poly, ok := SupportedPolynomials[polyName]
	if !ok {
		return nil, fmt.Errorf("unsupported polynomial: %s", polyName)
	}
	if poly.Degree() < 1 {
		return nil, fmt.Errorf("polynomial %s must have degree >= 1", polyName)
	}
	a := &Activation{poly: poly, heCtx: heCtx}
	a.Base = nn.NewBase("Activation_"+poly.Name, 1, 1)
	return a, nil
}

func (a *Activation) Poly() Poly { return a.poly }

func (a *Activation) Encrypted() bool { return a.heCtx != nil }

func (a *Activation) Levels() int {
	if a.heCtx != nil {
		return a.poly.Levels
	}
	return 0
}

func (a *Activation) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	switch x := inputs[0].(type) {
	case *tensor.Tensor:
		return []any{a.forwardPlain(x)}, state, nil
	case *Ciphertext:
		if a.heCtx == nil {
			return nil, nil, fmt.Errorf("%s: ciphertext input but no HE context", a.Name())
		}
		out, err := a.forwardHE(x)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", a.Name(), err)
		}
		return []any{out}, state, nil
	default:
		return nil, nil, fmt.Errorf("%s: unsupported input %T", a.Name(), x)
	}
}

func (a *Activation) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if in[0].Dtype == tensor.CKKS && a.heCtx == nil {
		return nil, fmt.Errorf("%s: ciphertext input but no HE context", a.Name())
	}
	return in, nil
}

// forwardPlain evaluates the polynomial with Horner's method.
func (a *Activation) forwardPlain(x *tensor.Tensor) *tensor.Tensor {
	c := a.poly.Coeffs
	return tensor.Map(x, func(v float64) float64 {
		res := c[len(c)-1]
		for j := len(c) - 2; j >= 0; j-- {
			res = res*v + c[j]
		}
		return res
	})
}

// forwardHE evaluates the polynomial on a ciphertext with Horner's method:
// the leading coefficient is applied as a constant product, then each further
// step is one ciphertext product. Degree d consumes d levels; an input with
// fewer left is refreshed first.
func (a *Activation) forwardHE(x *Ciphertext) (*Ciphertext, error) {
	c := a.poly.Coeffs
	d := a.poly.Degree()
	ct, err := refresh(a.heCtx, x.Ct, d)
	if err != nil {
		return nil, err
	}
	res, err := a.heCtx.MulConst(ct, c[d])
	if err != nil {
		return nil, err
	}
	for i := d - 1; i >= 0; i-- {
		if i < d-1 {
			if res, err = a.heCtx.Mul(res, ct); err != nil {
				return nil, err
			}
		}
		if c[i] != 0 {
			if res, err = a.heCtx.AddConst(res, c[i]); err != nil {
				return nil, err
			}
		}
	}
	return &Ciphertext{Ct: res, Shape: x.Shape}, nil
}

// Softmax normalizes the last axis into probabilities.
func Softmax() nn.Layer {
	return newRowwise("Softmax", func(row, out []float64) {
		m := maxOf(row)
		sum := 0.0
		for i, v := range row {
			out[i] = math.Exp(v - m)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
	})
}

// LogSoftmax is log(Softmax(x)) along the last axis, computed stably.
func LogSoftmax() nn.Layer {
	return newRowwise("LogSoftmax", logSoftmaxRow)
}

func logSoftmaxRow(row, out []float64) {
	m := maxOf(row)
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(v - m)
	}
	lse := m + math.Log(sum)
	for i, v := range row {
		out[i] = v - lse
	}
}

func maxOf(row []float64) float64 {
	m := math.Inf(-1)
	for _, v := range row {
		m = math.Max(m, v)
	}
	return m
}

// rowwise maps each row along the last axis.
type rowwise struct {
	nn.Base
	f func(row, out []float64)
}

func newRowwise(name string, f func(row, out []float64)) *rowwise {
	r := &rowwise{f: f}
	r.Base = nn.NewBase(name, 1, 1)
	return r
}

func (r *rowwise) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(r.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	out := tensor.New(x.Shape...)
	rows, cols := x.Rows()
	for i := 0; i < rows; i++ {
		r.f(x.Data[i*cols:(i+1)*cols], out.Data[i*cols:(i+1)*cols])
	}
	return []any{out}, state, nil
}

func (r *rowwise) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := plainSig(r.Name(), in[0]); err != nil {
		return nil, err
	}
	return in, nil
}
