package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/split"
	"stacknn/tensor"
	"stacknn/utils"
)

func newSplitCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Run a model split between a client and a server",
		Long: `Both sides build the same model from the same config and seed, then cut
it before sublayer --at. The client evaluates the head, the server the rest.`,
	}
	cmd.AddCommand(newSplitServeCommand(a), newSplitRunCommand(a))
	return cmd
}

// splitModel builds the configured model and cuts it at at.
func (a *app) splitModel(at int, weights string, stats *utils.TimingStats) (*built, *nn.Serial, *nn.Serial, error) {
	b, err := a.buildModel(weights, stats)
	if err != nil {
		return nil, nil, nil, err
	}
	s, ok := b.model.(*nn.Serial)
	if !ok {
		return nil, nil, nil, fmt.Errorf("model %s is not a Serial", nn.Info(b.model).Name())
	}
	head, server, err := split.Cut(s, at)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, head, server, nil
}

func newSplitServeCommand(a *app) *cobra.Command {
	var listen, load string
	var at int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tail of the model to one client at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, server, err := a.splitModel(at, load, &utils.TimingStats{})
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
			defer stop()
			a.log.Info("serving", "addr", ln.Addr().String(), "model", server.Name())

			for {
				conn, err := ln.Accept()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				log := a.log.WithValues("client", conn.RemoteAddr().String())
				srv := split.NewServer(server, conn, log)
				srv.Key = prng.Fold(prng.New(b.cfg.Seed), 3)
				err = srv.Serve(ctx)
				conn.Close()
				if err != nil && ctx.Err() == nil {
					log.Error(err, "session ended")
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}
	addModelFlags(cmd.Flags())
	cmd.Flags().StringVar(&listen, "listen", ":7070", "Address to listen on")
	cmd.Flags().IntVar(&at, "at", 1, "Cut the model before this sublayer")
	cmd.Flags().StringVar(&load, "load", "", "Load weights from this JSON file")
	return cmd
}

func newSplitRunCommand(a *app) *cobra.Command {
	var addr, load string
	var at int
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Forward random batches through the model, delegating the tail to a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			utils.Verbose = verbose
			stats := &utils.TimingStats{}
			start := time.Now()
			b, head, _, err := a.splitModel(at, load, stats)
			if err != nil {
				return err
			}
			var d net.Dialer
			conn, err := d.DialContext(cmd.Context(), "tcp", addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			client := split.NewClient(head, nil, conn)
			client.Key = prng.Fold(prng.New(b.cfg.Seed), 2)
			out := cmd.OutOrStdout()
			for i, batch := range b.batches() {
				var res []any
				err := utils.Time(&stats.ForwardTime, func() error {
					var err error
					res, err = client.Forward(cmd.Context(), batch...)
					return err
				})
				if err != nil {
					return fmt.Errorf("batch %d: %w", i, err)
				}
				stats.Batches++
				y := res[0].(*tensor.Tensor)
				fmt.Fprintf(out, "batch %d: shape %v first=%.6f\n", i, y.Shape, y.Data[0])
			}
			if err := client.Close(); err != nil {
				return err
			}
			stats.TotalTime = time.Since(start)
			utils.Output = out
			utils.PrintTimingStats(stats)
			return nil
		},
	}
	addModelFlags(cmd.Flags())
	cmd.Flags().StringVar(&addr, "addr", "localhost:7070", "Server address")
	cmd.Flags().IntVar(&at, "at", 1, "Cut the model before this sublayer")
	cmd.Flags().StringVar(&load, "load", "", "Load weights from this JSON file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print timing statistics")
	return cmd
}
