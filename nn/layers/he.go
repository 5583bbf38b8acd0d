package layers

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"

	"stacknn/core/ckkswrapper"
	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// Ciphertext is a CKKS-encrypted tensor: its elements are packed row-major
// into the slots of one ciphertext.
type Ciphertext struct {
	Ct    *rlwe.Ciphertext
	Shape []int
}

func (c *Ciphertext) ShapeDtype() tensor.ShapeDtype {
	return tensor.ShapeDtype{Shape: append([]int(nil), c.Shape...), Dtype: tensor.CKKS}
}

func (c *Ciphertext) size() int {
	n := 1
	for _, d := range c.Shape {
		n *= d
	}
	return n
}

func asCiphertext(layer string, v any) (*Ciphertext, error) {
	c, ok := v.(*Ciphertext)
	if !ok {
		return nil, fmt.Errorf("%s: expects *layers.Ciphertext, got %T", layer, v)
	}
	return c, nil
}

func cipherSig(layer string, sd tensor.ShapeDtype) error {
	if sd.Dtype != tensor.CKKS {
		return fmt.Errorf("%s: expects %s input, got %s", layer, tensor.CKKS, sd.Dtype)
	}
	return nil
}

// heLayer is the common part of the encrypted layers.
type heLayer struct {
	nn.Base
	heCtx *ckkswrapper.HeContext
}

func newHELayer(name string, nIn int, heCtx *ckkswrapper.HeContext) heLayer {
	var opts []nn.Option
	if heCtx == nil {
		opts = append(opts, nn.WithError(fmt.Errorf("%s: HE context is required", name)))
	}
	return heLayer{Base: nn.NewBase(name, nIn, 1, opts...), heCtx: heCtx}
}

func (h *heLayer) Encrypted() bool { return true }

// refresh bootstraps ct when fewer than need levels remain.
func refresh(heCtx *ckkswrapper.HeContext, ct *rlwe.Ciphertext, need int) (*rlwe.Ciphertext, error) {
	if !ckkswrapper.NeedsBootstrap(ct, need) {
		return ct, nil
	}
	return heCtx.CheatBootstrap(ct)
}

// Encrypt turns a plaintext tensor into a Ciphertext.
type Encrypt struct{ heLayer }

func NewEncrypt(heCtx *ckkswrapper.HeContext) *Encrypt {
	return &Encrypt{newHELayer("Encrypt", 1, heCtx)}
}

func (e *Encrypt) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(e.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	ct, err := e.heCtx.EncryptFloats(x.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", e.Name(), err)
	}
	return []any{&Ciphertext{Ct: ct, Shape: append([]int(nil), x.Shape...)}}, state, nil
}

func (e *Encrypt) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := plainSig(e.Name(), in[0]); err != nil {
		return nil, err
	}
	if n := in[0].Size(); n > e.heCtx.Slots() {
		return nil, fmt.Errorf("%s: %d values exceed %d slots", e.Name(), n, e.heCtx.Slots())
	}
	return []tensor.ShapeDtype{{Shape: in[0].Shape, Dtype: tensor.CKKS}}, nil
}

// Decrypt turns a Ciphertext back into a plaintext tensor.
type Decrypt struct{ heLayer }

func NewDecrypt(heCtx *ckkswrapper.HeContext) *Decrypt {
	return &Decrypt{newHELayer("Decrypt", 1, heCtx)}
}

func (d *Decrypt) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	c, err := asCiphertext(d.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	vals, err := d.heCtx.DecryptFloats(c.Ct, c.size())
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	out, err := tensor.FromSlice(vals, c.Shape...)
	if err != nil {
		return nil, nil, err
	}
	return []any{out}, state, nil
}

func (d *Decrypt) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := cipherSig(d.Name(), in[0]); err != nil {
		return nil, err
	}
	return []tensor.ShapeDtype{tensor.Sig(in[0].Shape...)}, nil
}

// EncryptedAdd sums the top two ciphertexts.
type EncryptedAdd struct{ heLayer }

func NewEncryptedAdd(heCtx *ckkswrapper.HeContext) *EncryptedAdd {
	return &EncryptedAdd{newHELayer("EncryptedAdd", 2, heCtx)}
}

func (a *EncryptedAdd) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asCiphertext(a.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	y, err := asCiphertext(a.Name(), inputs[1])
	if err != nil {
		return nil, nil, err
	}
	if x.size() != y.size() {
		return nil, nil, fmt.Errorf("%s: shapes %v and %v differ", a.Name(), x.Shape, y.Shape)
	}
	sum, err := a.heCtx.Add(x.Ct, y.Ct)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", a.Name(), err)
	}
	return []any{&Ciphertext{Ct: sum, Shape: x.Shape}}, state, nil
}

func (a *EncryptedAdd) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	for _, sd := range in {
		if err := cipherSig(a.Name(), sd); err != nil {
			return nil, err
		}
	}
	if !in[0].Equal(in[1]) {
		return nil, fmt.Errorf("%s: shapes %v and %v differ", a.Name(), in[0].Shape, in[1].Shape)
	}
	return in[:1], nil
}

// EncryptedScale multiplies a ciphertext by a constant. It consumes one level
// and refreshes an exhausted input with CheatBootstrap first.
type EncryptedScale struct {
	heLayer
	c float64
}

func NewEncryptedScale(heCtx *ckkswrapper.HeContext, c float64) *EncryptedScale {
	s := &EncryptedScale{heLayer: newHELayer(fmt.Sprintf("EncryptedScale_%g", c), 1, heCtx), c: c}
	return s
}

func (s *EncryptedScale) Levels() int { return 1 }

func (s *EncryptedScale) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	x, err := asCiphertext(s.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	ct, err := refresh(s.heCtx, x.Ct, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", s.Name(), err)
	}
	out, err := s.heCtx.MulConst(ct, s.c)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", s.Name(), err)
	}
	return []any{&Ciphertext{Ct: out, Shape: x.Shape}}, state, nil
}

func (s *EncryptedScale) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := cipherSig(s.Name(), in[0]); err != nil {
		return nil, err
	}
	return in, nil
}
