package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stacknn/nn"
	"stacknn/utils"
)

func newSummaryCommand(a *app) *cobra.Command {
	var format string
	var noColor bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the layer tree of an initialized model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			b, err := a.buildModel("", &utils.TimingStats{})
			if err != nil {
				return err
			}
			d := nn.Describe(b.model)
			out := cmd.OutOrStdout()
			switch format {
			case "tree":
				printTree(out, d, "")
				fmt.Fprintf(out, "levels: %d, encrypted: %v\n", nn.Levels(b.model), nn.Encrypted(b.model))
				return nil
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(d)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			return fmt.Errorf("unknown format %q (expected tree, yaml or json)", format)
		},
	}
	addModelFlags(cmd.Flags())
	cmd.Flags().StringVarP(&format, "format", "o", "tree", "Output format (tree, yaml, json)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

var (
	nameColor   = color.New(color.FgCyan, color.Bold)
	weightColor = color.New(color.FgYellow)
	sharedColor = color.New(color.FgMagenta)
)

func printTree(w io.Writer, d nn.Description, indent string) {
	var sb strings.Builder
	sb.WriteString(indent)
	sb.WriteString(nameColor.Sprint(d.Name))
	fmt.Fprintf(&sb, " %d->%d", d.NIn, d.NOut)
	if len(d.Inputs) > 0 {
		fmt.Fprintf(&sb, " in=%v", d.Inputs)
	}
	if d.Weights > 0 {
		sb.WriteString(" ")
		sb.WriteString(weightColor.Sprintf("weights=%d", d.Weights))
	}
	if d.Shared {
		sb.WriteString(" ")
		sb.WriteString(sharedColor.Sprint("(shared)"))
	}
	fmt.Fprintln(w, sb.String())
	if d.Shared {
		return
	}
	for _, sub := range d.Sublayers {
		printTree(w, sub, indent+"  ")
	}
}
