package layers

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// Mode selects how mode-dependent layers behave.
type Mode string

const (
	ModeTrain   Mode = "train"
	ModeEval    Mode = "eval"
	ModePredict Mode = "predict"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeTrain, ModeEval, ModePredict:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want train, eval or predict)", s)
}

// Dropout zeroes each element with probability rate in train mode, scaling
// the survivors by 1/(1-rate). In other modes it passes its input through.
type Dropout struct {
	nn.Base
	rate float64
	mode Mode
}

func NewDropout(rate float64, mode Mode) *Dropout {
	d := &Dropout{rate: rate, mode: mode}
	var opts []nn.Option
	if rate < 0 || rate >= 1 {
		opts = append(opts, nn.WithError(fmt.Errorf("Dropout: rate must be in [0, 1), got %g", rate)))
	}
	d.Base = nn.NewBase("Dropout", 1, 1, opts...)
	return d
}

func (d *Dropout) Forward(inputs []any, _, state *nn.Tree, key prng.Key) ([]any, *nn.Tree, error) {
	x, err := asTensor(d.Name(), inputs[0])
	if err != nil {
		return nil, nil, err
	}
	if d.mode != ModeTrain || d.rate == 0 {
		return []any{x}, state, nil
	}
	keep := prng.Bernoulli(key, 1-d.rate, x.Shape...)
	out, err := tensor.Mul(x, keep)
	if err != nil {
		return nil, nil, err
	}
	return []any{tensor.Scale(1/(1-d.rate), out)}, state, nil
}

func (d *Dropout) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := plainSig(d.Name(), in[0]); err != nil {
		return nil, err
	}
	return in, nil
}
