// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/backends/native"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/support/fsutil"
	"github.com/gomlx/aot/pkg/support/xslices"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	var listing bool
	cmd := &cobra.Command{
		Use:   "inspect <artifact.gmxa>",
		Short: "Print the inputs, outputs and instructions of a compiled artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := fsutil.ReplaceTildeInDir(args[0])
			if err != nil {
				return err
			}
			program, err := artifact.ReadProgram(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if listing {
				_, err = io.WriteString(out, program.String())
				return err
			}
			return inspect(out, path, program)
		},
	}
	cmd.Flags().BoolVar(&listing, "listing", false, "Print the plain text listing of the program instead of tables.")
	return cmd
}

func memory(shape shapes.Shape) string {
	return humanize.Bytes(uint64(shape.Memory()))
}

func inspect(out io.Writer, path string, program *artifact.Program) error {
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Program %q", program.Name)))
	summary := newTable([]string{"Property", "Value"}, lipgloss.Left, lipgloss.Right)
	summary.Row(false, "Artifact", path)
	if info, err := os.Stat(path); err == nil {
		summary.Row(false, "Artifact size", humanize.Bytes(uint64(info.Size())))
	}
	constantsPath := artifact.ConstantsPath(path)
	exists, err := fsutil.FileExists(constantsPath)
	if err != nil {
		return err
	}
	switch {
	case exists:
		summary.Row(false, "Constants file", constantsPath)
	case len(program.Constants) > 0:
		summary.Row(true, "Constants file", "missing: "+constantsPath)
	}
	summary.Row(false, "Instructions", humanize.Comma(int64(len(program.Instructions))))
	summary.Row(false, "Slots", humanize.Comma(int64(program.NumSlots)))
	summary.Row(false, "Parallelism", fmt.Sprintf("%d", program.Parallelism))
	fmt.Fprintln(out, summary.Table.Render())

	fmt.Fprintln(out, titleStyle.Render("Arguments"))
	arguments := newTable([]string{"Slot", "Kind", "Name", "Shape", "Memory"}, lipgloss.Right, lipgloss.Left,
		lipgloss.Left, lipgloss.Left, lipgloss.Right)
	var argumentsMemory uintptr
	for ii, shape := range program.Inputs {
		arguments.Row(false, artifact.SlotName(ii), "input", program.InputNames[ii], shape.String(), memory(shape))
		argumentsMemory += shape.Memory()
	}
	for ii, shape := range program.Constants {
		arguments.Row(false, artifact.SlotName(len(program.Inputs)+ii), "constant", "", shape.String(), memory(shape))
		argumentsMemory += shape.Memory()
	}
	arguments.Row(false, "", "total", "", "", humanize.Bytes(uint64(argumentsMemory)))
	fmt.Fprintln(out, arguments.Table.Render())

	fmt.Fprintln(out, titleStyle.Render("Outputs"))
	outputs := newTable([]string{"#", "Slot", "Shape", "Memory"}, lipgloss.Right, lipgloss.Right, lipgloss.Left,
		lipgloss.Right)
	for ii, shape := range program.OutputShapes() {
		outputs.Row(false, fmt.Sprintf("%d", ii), artifact.SlotName(program.Outputs[ii]), shape.String(), memory(shape))
	}
	fmt.Fprintln(out, outputs.Table.Render())

	fmt.Fprintln(out, titleStyle.Render("Instructions"))
	instructions := newTable([]string{"#", "Op", "Shape", "Inputs", "Attributes", "Comment"}, lipgloss.Right,
		lipgloss.Left)
	opCounts := make(map[backends.OpType]int)
	for ii, inst := range program.Instructions {
		opCounts[inst.Op]++
		// Instructions without a native kernel would fail to load: highlight them.
		missing := !native.HasKernel(inst.Op, inst.Shape.DType)
		instructions.Row(missing, fmt.Sprintf("%d", ii), inst.Op.String(),
			fmt.Sprintf("%s = %s", artifact.SlotName(inst.Output), inst.Shape),
			strings.Join(xslices.Map(inst.Inputs, artifact.SlotName), ", "), inst.Attrs.String(), inst.Comment)
	}
	fmt.Fprintln(out, instructions.Table.Render())

	fmt.Fprintln(out, titleStyle.Render("Operations"))
	ops := newTable([]string{"Op", "Count"}, lipgloss.Left, lipgloss.Right)
	sortedOps := make([]backends.OpType, 0, len(opCounts))
	for op := range opCounts {
		sortedOps = append(sortedOps, op)
	}
	slices.Sort(sortedOps)
	for _, op := range sortedOps {
		ops.Row(false, op.String(), humanize.Comma(int64(opCounts[op])))
	}
	fmt.Fprintln(out, ops.Table.Render())
	return nil
}
