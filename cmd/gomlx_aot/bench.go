// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/aot/pkg/layoutbench"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newBenchLayoutCommand() *cobra.Command {
	var (
		presetName string
		opts       layoutbench.Options
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "bench-layout",
		Short: "Benchmark the native Conv2D with channels-first (baseline) and channels-last memory layouts",
		Long:  benchLayoutLong(),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			preset, found := layoutbench.Presets[presetName]
			if !found {
				return errors.Errorf("unknown preset %q, valid presets are %v", presetName, layoutbench.PresetNames())
			}
			if !quiet {
				opts.Progress = cmd.ErrOrStderr()
			}
			result, err := layoutbench.Run(preset, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			table := newTable([]string{"Variant", "Median", "Repetitions"}, lipgloss.Left, lipgloss.Right)
			table.Row(false, "baseline (NCHW)", result.Baseline.String(), fmt.Sprintf("%d", result.BaselineReps))
			table.Row(result.Speedup() < 1, "channels-last (NHWC)", result.ChannelsLast.String(),
				fmt.Sprintf("%d", result.ChannelsLastReps))
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Preset %q, output %v", result.Preset, result.OutputDims)))
			fmt.Fprintln(out, table.Table.Render())
			fmt.Fprintln(out, result)
			fmt.Fprintf(out, "trace: %s\n", result.TracePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&presetName, "preset", "default",
		fmt.Sprintf("Benchmark shapes, one of %s. The default preset takes minutes.",
			strings.Join(layoutbench.PresetNames(), ", ")))
	cmd.Flags().StringVar(&opts.TracePath, "trace", layoutbench.DefaultTracePath, "Path of the Chrome trace file.")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", 0, "Number of workers, 0 uses all CPUs.")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "Seed of the random inputs.")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Don't display the progress bar.")
	return cmd
}

// benchLayoutLong describes the cost of the presets, since the default one is slow on the pure Go kernel.
func benchLayoutLong() string {
	var sb strings.Builder
	sb.WriteString("Benchmark the native Conv2D with channels-first (baseline) and channels-last memory layouts.\n\n")
	fmt.Fprintf(&sb, "Each layout is convolved at least %d times. Multiply-adds per call:\n", layoutbench.CallsPerVariant)
	for _, name := range layoutbench.PresetNames() {
		preset := layoutbench.Presets[name]
		fmt.Fprintf(&sb, "  %-8s %.1e\n", name, float64(preset.MACs()))
	}
	sb.WriteString("\nThe default preset takes minutes on the pure Go kernel, " +
		"use --preset=small for a run of a few milliseconds.")
	return sb.String()
}
