package layers

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

// CrossEntropyLoss takes logits on top and one-hot targets below them and
// returns the mean over rows of -sum(targets * log_softmax(logits)) as a
// scalar.
type CrossEntropyLoss struct {
	nn.Base
}

func NewCrossEntropyLoss() *CrossEntropyLoss {
	c := &CrossEntropyLoss{}
	c.Base = nn.NewBase("CrossEntropyLoss", 2, 1)
	return c
}

func (c *CrossEntropyLoss) Forward(inputs []any, _, state *nn.Tree, _ prng.Key) ([]any, *nn.Tree, error) {
	ts, err := tensors(c.Name(), inputs)
	if err != nil {
		return nil, nil, err
	}
	logits, targets := ts[0], ts[1]
	if !tensor.SameShape(logits, targets) {
		return nil, nil, fmt.Errorf("%s: logits %v and targets %v differ in shape", c.Name(), logits.Shape, targets.Shape)
	}
	rows, cols := logits.Rows()
	logp := make([]float64, cols)
	total := 0.0
	for r := 0; r < rows; r++ {
		logSoftmaxRow(logits.Data[r*cols:(r+1)*cols], logp)
		for j, lp := range logp {
			total -= targets.Data[r*cols+j] * lp
		}
	}
	loss := tensor.New()
	if rows > 0 {
		loss.Data[0] = total / float64(rows)
	}
	return []any{loss}, state, nil
}

func (c *CrossEntropyLoss) OutputSignature(in []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	for _, sd := range in {
		if err := plainSig(c.Name(), sd); err != nil {
			return nil, err
		}
	}
	return []tensor.ShapeDtype{tensor.Sig()}, nil
}
