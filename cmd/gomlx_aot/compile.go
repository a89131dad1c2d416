// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/aot/backends/native"
	"github.com/gomlx/aot/pkg/aot"
	"github.com/gomlx/aot/pkg/aot/aottest"
	"github.com/gomlx/aot/pkg/support/fsutil"
	"github.com/spf13/cobra"
)

// modelOptions are the flags shared by the commands that compile a demo model.
type modelOptions struct {
	Model      string
	ConfigPath string
	OutputDir  string
	Seed       uint64
}

func (o *modelOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Model, "model", "add_linear",
		fmt.Sprintf("Built-in model to compile, one of %s.", strings.Join(demoNames(), ", ")))
	cmd.Flags().StringVar(&o.ConfigPath, "config", "", "YAML file with the compilation configuration.")
	cmd.Flags().StringVar(&o.OutputDir, "output_dir", "",
		"Directory where to write the artifacts. It overrides the configuration file.")
	cmd.Flags().Uint64Var(&o.Seed, "seed", 42, "Seed used to generate the model parameters and example inputs.")
}

// config returns the compilation configuration, from the configuration file if given.
func (o *modelOptions) config() (*aot.Config, error) {
	cfg := aot.DefaultConfig()
	if o.ConfigPath != "" {
		var err error
		cfg, err = aot.LoadConfig(o.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	if o.OutputDir != "" {
		dir, err := fsutil.ReplaceTildeInDir(o.OutputDir)
		if err != nil {
			return nil, err
		}
		cfg.OutputDir = dir
	}
	if cfg.Name == aot.DefaultConfig().Name {
		cfg.Name = o.Model
	}
	return cfg, nil
}

func newCompileCommand() *cobra.Command {
	opts := &modelOptions{}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a built-in model to a native artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := lookupDemo(opts.Model)
			if err != nil {
				return err
			}
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			m, inputs := d.build(opts.Seed)
			path, exported, err := aot.Compile(m, inputs, cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model %q (%s) compiled:\n", opts.Model, d.description)
			fmt.Fprintf(out, "\tprogram:   %s\n", path)
			if exported.ConstantsPath != "" {
				fmt.Fprintf(out, "\tconstants: %s (%d tensors)\n", exported.ConstantsPath, len(exported.Constants))
			}
			fmt.Fprintf(out, "\t%d inputs, %d outputs, %d instructions\n",
				len(exported.InputShapes), len(exported.OutputShapes), len(exported.Program.Instructions))
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func newCheckCommand() *cobra.Command {
	opts := &modelOptions{}
	var parallelism int
	var atol, rtol float64
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compile and run a built-in model natively, and compare it with its eager execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := lookupDemo(opts.Model)
			if err != nil {
				return err
			}
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			m, inputs := d.build(opts.Seed)
			c := aottest.Case{
				Name:      opts.Model,
				Model:     m,
				Inputs:    inputs,
				Config:    cfg,
				Tolerance: &aottest.Tolerance{Atol: atol, Rtol: rtol},
			}
			if parallelism > 0 {
				c.Options = append(c.Options, native.WithParallelism(parallelism))
			}
			report, runErr := aottest.RunCase(c)
			printReport(cmd, report, runErr)
			return runErr
		},
	}
	opts.register(cmd)
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Number of workers of the native runtime, 0 uses the artifact default.")
	cmd.Flags().Float64Var(&atol, "atol", aottest.DefaultTolerance.Atol, "Absolute tolerance of the comparison.")
	cmd.Flags().Float64Var(&rtol, "rtol", aottest.DefaultTolerance.Rtol, "Relative tolerance of the comparison.")
	return cmd
}

// printReport prints the states reached by a case as a table, the last one highlighted if it failed.
func printReport(cmd *cobra.Command, report *aottest.Report, runErr error) {
	table := newTable([]string{"#", "State"}, lipgloss.Right, lipgloss.Left)
	for ii, state := range report.Transitions {
		isLast := ii == len(report.Transitions)-1
		table.Row(isLast && runErr != nil, fmt.Sprintf("%d", ii), state.String())
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Case %q", report.Case)))
	fmt.Fprintln(out, table.Table.Render())
	if report.ArtifactPath != "" {
		fmt.Fprintf(out, "artifact: %s\n", report.ArtifactPath)
	}
	if runErr == nil {
		fmt.Fprintln(out, "outputs match")
	}
}
