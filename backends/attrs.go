// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"
)

// Attrs holds the static (compile time) attributes of an operation. Only the fields relevant to the
// operation are set, the others are left zero.
//
// It is gob encoded as part of the AOT artifact, so fields should only be added, never renamed.
type Attrs struct {
	// Dimensions of the output: target of Reshape and BroadcastInDim.
	Dimensions []int

	// Axes is the permutation for Transpose, the output axis of each input axis for BroadcastInDim,
	// the reduced axes for ReduceSum and the concatenation axis (one element) for Concatenate.
	Axes []int

	// Starts, Limits and Strides of a Slice.
	Starts, Limits, Strides []int

	// Conv holds the configuration of a Conv2D.
	Conv *ConvConfig

	// TransposeB indicates the Dot right-hand-side operand is given transposed ([N, K] instead of [K, N]).
	TransposeB bool

	// Name of a HostCallback or Parameter.
	Name string
}

// ConvConfig holds the attributes of a 2D convolution. The input is [batch, channels, height, width],
// the kernel is [outputChannels, channels/Groups, kernelHeight, kernelWidth], output is
// [batch, outputChannels, outputHeight, outputWidth].
type ConvConfig struct {
	// Strides, Padding and Dilations for the 2 spatial axes. Padding is symmetric.
	Strides, Padding, Dilations [2]int

	// Groups of the convolution (feature groups). Both input channels and output channels must be divisible by it.
	Groups int
}

// DefaultConvConfig returns a convolution configuration with stride 1, no padding, no dilation and 1 group.
func DefaultConvConfig() *ConvConfig {
	return &ConvConfig{
		Strides:   [2]int{1, 1},
		Dilations: [2]int{1, 1},
		Groups:    1,
	}
}

// OutputSpatialDim returns the output dimension of a convolution over one spatial axis.
// It returns 0 if the (dilated) kernel doesn't fit in the padded input.
func (c *ConvConfig) OutputSpatialDim(axis, inputDim, kernelDim int) int {
	effectiveKernel := (kernelDim-1)*c.Dilations[axis] + 1
	padded := inputDim + 2*c.Padding[axis]
	if padded < effectiveKernel {
		return 0
	}
	return (padded-effectiveKernel)/c.Strides[axis] + 1
}

// String returns a compact representation of the non-zero attributes.
func (a *Attrs) String() string {
	if a == nil {
		return ""
	}
	var parts []string
	add := func(name string, value any) { parts = append(parts, fmt.Sprintf("%s=%v", name, value)) }
	if len(a.Dimensions) > 0 {
		add("dims", a.Dimensions)
	}
	if len(a.Axes) > 0 {
		add("axes", a.Axes)
	}
	if len(a.Starts) > 0 {
		add("starts", a.Starts)
		add("limits", a.Limits)
		add("strides", a.Strides)
	}
	if a.Conv != nil {
		add("conv_strides", a.Conv.Strides)
		add("padding", a.Conv.Padding)
		add("dilations", a.Conv.Dilations)
		add("groups", a.Conv.Groups)
	}
	if a.TransposeB {
		add("transpose_b", true)
	}
	if a.Name != "" {
		add("name", fmt.Sprintf("%q", a.Name))
	}
	return strings.Join(parts, " ")
}
