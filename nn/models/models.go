// Package models assembles common networks from nn/layers.
package models

import (
	"fmt"

	"stacknn/core/ckkswrapper"
	"stacknn/nn"
	"stacknn/nn/layers"
	"stacknn/tensor"
	"stacknn/utils"
)

func dropout(rate float64, mode layers.Mode) nn.Layer {
	if rate == 0 {
		return nil
	}
	return layers.NewDropout(rate, mode)
}

// MLP is a multi-layer perceptron: Dense + Relu (+ Dropout) per hidden size,
// then a Dense projection to outputs.
func MLP(hidden []int, outputs int, rate float64, mode layers.Mode) *nn.Serial {
	var ls []nn.Layer
	for _, h := range hidden {
		ls = append(ls, layers.NewDense(h), layers.Relu(), dropout(rate, mode))
	}
	ls = append(ls, layers.NewDense(outputs))
	m := nn.NewSerial(ls...)
	nn.Rename(m, "MLP")
	return m
}

// FeedForward is the position-wise block of a transformer:
// LayerNorm, Dense(dFF), Relu, Dropout, Dense(dModel), Dropout.
func FeedForward(dModel, dFF int, rate float64, mode layers.Mode) *nn.Serial {
	m := nn.NewSerial(
		layers.NewLayerNorm(),
		layers.NewDense(dFF),
		layers.Relu(),
		dropout(rate, mode),
		layers.NewDense(dModel),
		dropout(rate, mode),
	)
	nn.Rename(m, "FeedForward")
	return m
}

// ResidualStack chains blocks residual FeedForward blocks and normalizes the
// result.
func ResidualStack(blocks, dModel, dFF int, rate float64, mode layers.Mode) *nn.Serial {
	ls := make([]nn.Layer, 0, blocks+1)
	for i := 0; i < blocks; i++ {
		ls = append(ls, layers.Residual(FeedForward(dModel, dFF, rate, mode)))
	}
	ls = append(ls, layers.NewLayerNorm())
	m := nn.NewSerial(ls...)
	nn.Rename(m, "ResidualStack")
	return m
}

// WithLoss appends CrossEntropyLoss to a 1-input model. The result takes
// the model input on top and one-hot targets below it.
func WithLoss(model nn.Layer) *nn.Serial {
	m := nn.NewSerial(model, layers.NewCrossEntropyLoss())
	nn.Rename(m, "WithLoss")
	return m
}

// SplitHE is a split model whose middle runs under encryption:
// Dense(hidden), Encrypt, ReLU3, Decrypt, Dense(outputs).
// Sublayer 2 only ever sees ciphertexts, so split.Partition(m, 2, 3) can
// hand it to a server.
func SplitHE(hidden, outputs int, heCtx *ckkswrapper.HeContext) (*nn.Serial, error) {
	act, err := layers.NewActivation("ReLU3", heCtx)
	if err != nil {
		return nil, err
	}
	m := nn.NewSerial(
		layers.NewDense(hidden),
		layers.NewEncrypt(heCtx),
		act,
		layers.NewDecrypt(heCtx),
		layers.NewDense(outputs),
	)
	nn.Rename(m, "SplitHE")
	return m, nil
}

// Build constructs the model described by cfg.
func Build(cfg utils.Config) (nn.Layer, error) {
	if err := utils.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	mode, err := layers.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	var m nn.Layer
	switch cfg.Model {
	case utils.ModelMLP:
		m = MLP(cfg.Hidden, cfg.Outputs, cfg.Dropout, mode)
	case utils.ModelFeedForward:
		m = FeedForward(cfg.DModel, cfg.DFF, cfg.Dropout, mode)
	case utils.ModelResidual:
		m = ResidualStack(cfg.Blocks, cfg.DModel, cfg.DFF, cfg.Dropout, mode)
	default:
		return nil, fmt.Errorf("unknown model %q", cfg.Model)
	}
	return m, nn.Validate(m)
}

// InputSignature is the batch signature cfg's model expects.
func InputSignature(cfg utils.Config) tensor.ShapeDtype {
	if cfg.Model == utils.ModelMLP {
		return tensor.Sig(cfg.BatchSize, cfg.InputDim)
	}
	return tensor.Sig(cfg.BatchSize, cfg.DModel)
}
