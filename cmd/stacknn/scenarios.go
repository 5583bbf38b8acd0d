package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stacknn/core/ckkswrapper"
	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/nn/layers"
	"stacknn/nn/models"
	"stacknn/tensor"
	"stacknn/utils"
)

type scenario struct {
	name   string
	model  func(he *ckkswrapper.HeContext) (nn.Layer, error)
	inputs func() []*tensor.Tensor
	he     bool
}

var scenarios = []scenario{
	{
		name: "relu-layernorm",
		model: func(*ckkswrapper.HeContext) (nn.Layer, error) {
			return nn.NewSerial(layers.Relu(), layers.NewLayerNorm()), nil
		},
		inputs: func() []*tensor.Tensor {
			x, _ := tensor.FromRows([][]float64{{-7, -6, -5, -4, -3}, {-2, -1, 0, 1, 2}, {3, 4, 5, 6, 7}})
			return []*tensor.Tensor{x}
		},
	},
	{
		// 64*x0 + 8*x1 + x2 = (83, 229, 375, 449).
		name: "parallel-add",
		model: func(*ckkswrapper.HeContext) (nn.Layer, error) {
			return nn.NewSerial(
				nn.NewParallel(layers.MulConstant(64), layers.MulConstant(8), layers.MulConstant(1)),
				layers.Add(),
				layers.Add(),
			), nil
		},
		inputs: func() []*tensor.Tensor {
			return []*tensor.Tensor{
				tensor.NewWithData([]float64{1, 3, 5, 7}),
				tensor.NewWithData([]float64{2, 4, 6, 0}),
				tensor.NewWithData([]float64{3, 5, 7, 1}),
			}
		},
	},
	{
		name: "mlp-with-loss",
		model: func(*ckkswrapper.HeContext) (nn.Layer, error) {
			return models.WithLoss(models.MLP([]int{8}, 3, 0, layers.ModeEval)), nil
		},
		inputs: func() []*tensor.Tensor {
			t, _ := tensor.FromRows([][]float64{{1, 0, 0}, {0, 1, 0}})
			return []*tensor.Tensor{prng.Normal(prng.New(3), 1, 2, 4), t}
		},
	},
	{
		name: "encrypted-relu3",
		he:   true,
		model: func(he *ckkswrapper.HeContext) (nn.Layer, error) {
			act, err := layers.NewActivation("ReLU3", he)
			if err != nil {
				return nil, err
			}
			return nn.NewSerial(layers.NewEncrypt(he), act, layers.NewEncryptedScale(he, 0.5), layers.NewDecrypt(he)), nil
		},
		inputs: func() []*tensor.Tensor {
			return []*tensor.Tensor{tensor.NewWithData([]float64{-1, -0.5, 0, 0.5, 1})}
		},
	},
}

func newScenariosCommand(a *app) *cobra.Command {
	var withHE bool
	var logN int
	cmd := &cobra.Command{
		Use:   "scenarios [name...]",
		Short: "Run the documented example models",
		RunE: func(cmd *cobra.Command, args []string) error {
			want := map[string]bool{}
			for _, n := range args {
				want[n] = true
			}
			stats := &utils.TimingStats{}
			start := time.Now()
			var he *ckkswrapper.HeContext
			out := cmd.OutOrStdout()
			ran := 0
			for _, sc := range scenarios {
				if (len(want) > 0 && !want[sc.name]) || (sc.he && !withHE) {
					continue
				}
				if sc.he && he == nil {
					err := utils.Time(&stats.HEInitTime, func() error {
						var err error
						he, err = ckkswrapper.NewHeContextWithLogN(logN)
						return err
					})
					if err != nil {
						return err
					}
				}
				if err := runScenario(out, sc, he, stats); err != nil {
					return fmt.Errorf("%s: %w", sc.name, err)
				}
				ran++
				stats.Batches++
			}
			if ran == 0 {
				return fmt.Errorf("no scenario matched %v (use --he for encrypted ones)", args)
			}
			stats.TotalTime = time.Since(start)
			utils.Output = out
			utils.PrintTimingStats(stats)
			a.log.V(1).Info("scenarios done", "count", ran)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withHE, "he", false, "Also run scenarios under CKKS encryption")
	cmd.Flags().IntVar(&logN, "log-n", ckkswrapper.DefaultLogN, "CKKS ring degree (log2)")
	cmd.Flags().BoolVarP(&utils.Verbose, "verbose", "v", false, "Print timing statistics")
	return cmd
}

func runScenario(w io.Writer, sc scenario, he *ckkswrapper.HeContext, stats *utils.TimingStats) error {
	model, err := sc.model(he)
	if err != nil {
		return err
	}
	xs := sc.inputs()
	inputs := make([]any, len(xs))
	sigs := make([]tensor.ShapeDtype, len(xs))
	for i, x := range xs {
		inputs[i], sigs[i] = x, x.ShapeDtype()
	}
	err = utils.Time(&stats.ModelInitTime, func() error {
		_, _, err := nn.Init(model, sigs, prng.New(0))
		return err
	})
	if err != nil {
		return err
	}
	var outs []any
	err = utils.Time(&stats.ForwardTime, func() error {
		outs, err = nn.Apply(model, inputs...)
		return err
	})
	if err != nil {
		return err
	}
	color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", sc.name)
	fmt.Fprintf(w, "  model: %s\n", nn.Info(model).Name())
	for i, o := range outs {
		fmt.Fprintf(w, "  out[%d]: %v\n", i, o.(*tensor.Tensor).Data)
	}
	return nil
}
