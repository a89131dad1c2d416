// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gomlx_aot compiles models ahead-of-time, inspects compiled artifacts, checks that compiled models match
// their eager execution, and runs the conv layout benchmark.
//
// Usage:
//
//	gomlx_aot compile --model=add_linear --config=aot.yaml
//	gomlx_aot inspect /tmp/gomlx_aot_.../add_linear.gmxa
//	gomlx_aot check --model=conv_bn
//	gomlx_aot bench-layout --preset=small
//
// Logging flags from klog (e.g.: -v=1) are accepted by all commands.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

// newRootCommand creates the root command with all sub-commands.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gomlx_aot",
		Short:         "Ahead-of-time compilation of GoMLX models to native artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(newCompileCommand())
	cmd.AddCommand(newCheckCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newBenchLayoutCommand())
	return cmd
}
