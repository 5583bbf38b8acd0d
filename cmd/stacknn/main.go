// stacknn builds, inspects and runs stack-composed layer models.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"stacknn/nn"
	"stacknn/utils"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v          *viper.Viper
	log        logr.Logger
	configPath string
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCommand().ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{v: utils.NewViper(), logLevel: "info"}
	cmd := &cobra.Command{
		Use:           "stacknn",
		Short:         "Compose, inspect and run stack-based layer models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bindViper(cmd); err != nil {
				return err
			}
			log, err := utils.NewLogger(a.v.GetString("log-level"))
			if err != nil {
				return err
			}
			a.log = log
			nn.SetLogger(log.WithName("nn"))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Model config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", a.logLevel, "Log level (debug, info, warn, error)")
	cmd.AddCommand(
		newSummaryCommand(a),
		newRunCommand(a),
		newScenariosCommand(a),
		newSplitCommand(a),
	)
	cmd.Example = `  # Show an initialized residual stack as YAML
  stacknn summary --model residual --blocks 3 --format yaml

  # Forward 8 random batches through an MLP and save its weights
  stacknn run --hidden 32,16 --batches 8 --save mlp.json

  # Run the model split across two processes
  stacknn split serve --listen :7070 --at 2 &
  stacknn split run --addr localhost:7070 --at 2`
	return cmd
}

// bindViper binds the executing command's flags, so flag > STACKNN_* env >
// config file > flag default.
func (a *app) bindViper(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if a.configPath == "" {
		return nil
	}
	a.v.SetConfigFile(a.configPath)
	if err := a.v.ReadInConfig(); err != nil {
		return pkgerrors.Wrapf(err, "read config %s", a.configPath)
	}
	return nil
}

// config decodes the model configuration from flags, env and file.
func (a *app) config() (utils.Config, error) {
	return utils.DecodeConfig(a.v, utils.DefaultConfig())
}

// addModelFlags registers the utils.Config fields as flags.
func addModelFlags(fs *pflag.FlagSet) {
	def := utils.DefaultConfig()
	fs.String("model", def.Model, "Model kind (mlp, feedforward, residual)")
	fs.Int("input-dim", def.InputDim, "MLP input features")
	fs.String("hidden", joinInts(def.Hidden), "MLP hidden sizes, e.g. 32,16")
	fs.Int("outputs", def.Outputs, "MLP output features")
	fs.Int("d-model", def.DModel, "Feature width of feedforward and residual models")
	fs.Int("d-ff", def.DFF, "Inner width of feedforward blocks")
	fs.Int("blocks", def.Blocks, "Residual blocks")
	fs.Float64("dropout", def.Dropout, "Dropout rate")
	fs.String("mode", def.Mode, "Layer mode (train, eval, predict)")
	fs.Int64("seed", def.Seed, "Initialization seed")
	fs.Int("batch-size", def.BatchSize, "Rows per batch")
	fs.Int("batches", def.Batches, "Number of batches")
}

func joinInts(xs []int) string {
	s := ""
	for i, x := range xs {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprint(x)
	}
	return s
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		message = "interrupted"
	case errors.Is(err, nn.ErrShapeMismatch):
		message = fmt.Sprintf("%s\nHint: the input width must match the signature the model was initialized with.", err)
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
