package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/nn/models"
	"stacknn/tensor"
	"stacknn/utils"
)

// built is an initialized model together with the config it came from.
type built struct {
	cfg   utils.Config
	model nn.Layer
	sig   tensor.ShapeDtype
}

// buildModel decodes the config, builds the model and initializes it from
// cfg.Seed. If weights is set, the stored weights replace the initial ones.
func (a *app) buildModel(weights string, stats *utils.TimingStats) (*built, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	model, err := models.Build(cfg)
	if err != nil {
		return nil, err
	}
	sig := models.InputSignature(cfg)
	err = utils.Time(&stats.ModelInitTime, func() error {
		params, _, err := nn.Init(model, []tensor.ShapeDtype{sig}, prng.New(cfg.Seed))
		if err != nil {
			return err
		}
		if weights == "" {
			return nil
		}
		mw, err := utils.LoadWeights(weights)
		if err != nil {
			return err
		}
		return utils.LoadIntoTree(params, mw)
	})
	if err != nil {
		return nil, err
	}
	a.log.V(1).Info("model ready", "model", cfg.Model, "input", sig.String(), "weights", nn.Info(model).Params().Size())
	return &built{cfg: cfg, model: model, sig: sig}, nil
}

// batches draws cfg.Batches random inputs from a key derived from the seed.
func (b *built) batches() [][]any {
	keys := prng.SplitN(prng.Fold(prng.New(b.cfg.Seed), 1), b.cfg.Batches)
	out := make([][]any, len(keys))
	for i, k := range keys {
		out[i] = []any{prng.Normal(k, 1, b.sig.Shape...)}
	}
	return out
}

func newRunCommand(a *app) *cobra.Command {
	var load, save string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Forward random batches through a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			utils.Verbose = verbose
			stats := &utils.TimingStats{}
			start := time.Now()

			b, err := a.buildModel(load, stats)
			if err != nil {
				return err
			}
			var outs [][]any
			err = utils.Time(&stats.ForwardTime, func() error {
				var err error
				outs, err = nn.ApplyAll(cmd.Context(), b.model, b.batches(), prng.Fold(prng.New(b.cfg.Seed), 2))
				return err
			})
			if err != nil {
				return err
			}
			stats.Batches = len(outs)

			for i, out := range outs {
				sig, err := nn.SignaturesOf(out)
				if err != nil {
					return err
				}
				y := out[0].(*tensor.Tensor)
				fmt.Fprintf(cmd.OutOrStdout(), "batch %d: %v first=%.6f\n", i, sig, y.Data[0])
			}
			if save != "" {
				if err := utils.SaveWeights(save, utils.TreeToWeights(nn.Info(b.model).Params())); err != nil {
					return err
				}
				a.log.Info("weights saved", "path", save)
			}
			stats.TotalTime = time.Since(start)
			utils.Output = cmd.OutOrStdout()
			utils.PrintTimingStats(stats)
			return nil
		},
	}
	addModelFlags(cmd.Flags())
	cmd.Flags().StringVar(&load, "load", "", "Load weights from this JSON file")
	cmd.Flags().StringVar(&save, "save", "", "Save weights to this JSON file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print timing statistics")
	return cmd
}
