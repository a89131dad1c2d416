// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("k8s.io/klog/v2.(*flushDaemon).run.func1"))
}

// sinAddProgram computes (sin(x) + c) * 2, with c a constant argument.
func sinAddProgram() *artifact.Program {
	shape := shapes.Make(dtypes.Float32, 3)
	return &artifact.Program{
		Name:       "sin_add",
		Inputs:     []shapes.Shape{shape},
		InputNames: []string{"x"},
		Constants:  []shapes.Shape{shape},
		Literals:   []artifact.Literal{must.M1(artifact.NewLiteral(tensors.FromValue(float32(2))))},
		Instructions: []artifact.Instruction{
			{Op: backends.OpTypeSin, Inputs: []int{0}, Output: 2, Shape: shape, Literal: artifact.NoLiteral, Free: []int{0}},
			{Op: backends.OpTypeAdd, Inputs: []int{2, 1}, Output: 0, Shape: shape, Literal: artifact.NoLiteral, Free: []int{1, 2}},
			{Op: backends.OpTypeConstant, Output: 1, Shape: shapes.Make(dtypes.Float32), Literal: 0},
			{Op: backends.OpTypeBroadcastInDim, Inputs: []int{1}, Output: 2, Shape: shape, Literal: artifact.NoLiteral,
				Attrs: backends.Attrs{Dimensions: []int{3}}, Free: []int{1}},
			{Op: backends.OpTypeMul, Inputs: []int{0, 2}, Output: 1, Shape: shape, Literal: artifact.NoLiteral, Free: []int{0, 2}},
		},
		Outputs:  []int{1},
		NumSlots: 3,
	}
}

// writeArtifact writes the program, and the constants if not nil, to a temporary directory.
func writeArtifact(t *testing.T, p *artifact.Program, constants []*tensors.Tensor) string {
	path := filepath.Join(t.TempDir(), p.Name+artifact.ProgramExt)
	require.NoError(t, artifact.WriteProgram(path, p))
	if constants != nil {
		require.NoError(t, artifact.WriteConstants(artifact.ConstantsPath(path),
			[]string{artifact.TensorListAttribute}, [][]*tensors.Tensor{constants}))
	}
	return path
}

func runOnce(t *testing.T, lib *Library, inputs ...*tensors.Tensor) []*tensors.Tensor {
	outputs := make([]*tensors.Tensor, len(lib.Program().Outputs))
	for ii, shape := range lib.Program().OutputShapes() {
		outputs[ii] = tensors.FromShape(shape)
	}
	require.NoError(t, lib.Run(inputs, outputs))
	require.NoError(t, lib.Synchronize())
	return outputs
}

func TestRun(t *testing.T) {
	path := writeArtifact(t, sinAddProgram(), []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})})
	lib, err := Load(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, lib.Close()) }()
	assert.Equal(t, artifact.ConstantsPath(path), lib.ConstantsPath())

	x := []float32{0, 1, -1}
	outputs := runOnce(t, lib, tensors.FromValue(x))
	got := outputs[0].Value().([]float32)
	for ii, v := range x {
		want := (float32(math.Sin(float64(v))) + float32(ii+1)) * 2
		assert.InDelta(t, want, got[ii], 1e-6)
	}

	// Identical inputs give bitwise identical outputs.
	again := runOnce(t, lib, tensors.FromValue(x))
	assert.True(t, again[0].Equal(outputs[0]))
}

func TestRunErrors(t *testing.T) {
	t.Run("signature mismatch", func(t *testing.T) {
		path := writeArtifact(t, sinAddProgram(), []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})})
		lib := must.M1(Load(path))
		defer func() { require.NoError(t, lib.Close()) }()
		output := tensors.FromShape(shapes.Make(dtypes.Float32, 3))
		require.Panics(t, func() {
			_ = lib.Run([]*tensors.Tensor{tensors.FromValue([]float32{1, 2})}, []*tensors.Tensor{output})
		})
		require.Panics(t, func() {
			_ = lib.Run(nil, []*tensors.Tensor{output})
		})
	})

	t.Run("missing constants file", func(t *testing.T) {
		// Without the constants, the program is missing one argument.
		path := writeArtifact(t, sinAddProgram(), nil)
		lib := must.M1(Load(path))
		defer func() { require.NoError(t, lib.Close()) }()
		output := tensors.FromShape(shapes.Make(dtypes.Float32, 3))
		arguments := []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})}
		require.PanicsWithError(t,
			"signature mismatch for arguments: expected 2 [(Float32)[3], (Float32)[3]], got 1 [(Float32)[3]]",
			func() {
				_ = lib.Run(arguments, []*tensors.Tensor{output})
			})

		// But the constants can be given as extra inputs.
		outputs := runOnce(t, lib, tensors.FromValue([]float32{0, 0, 0}), tensors.FromValue([]float32{1, 2, 3}))
		assert.Equal(t, []float32{2, 4, 6}, outputs[0].Value())
	})

	t.Run("corrupt constants file", func(t *testing.T) {
		path := writeArtifact(t, sinAddProgram(), nil)
		require.NoError(t, os.WriteFile(artifact.ConstantsPath(path), []byte("GMXACNST garbage"), 0o644))
		lib := must.M1(Load(path))
		defer func() { require.NoError(t, lib.Close()) }()
		output := tensors.FromValue([]float32{7, 7, 7})
		err := lib.Run([]*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})}, []*tensors.Tensor{output})
		var loadErr *ConstantsLoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, artifact.ConstantsPath(path), loadErr.Path)
		require.NoError(t, lib.Synchronize())
		assert.Equal(t, []float32{7, 7, 7}, output.Value(), "outputs must not be touched")
	})

	t.Run("run after close", func(t *testing.T) {
		path := writeArtifact(t, sinAddProgram(), []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})})
		lib := must.M1(Load(path))
		require.NoError(t, lib.Close())
		require.NoError(t, lib.Close())
		err := lib.Run([]*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})},
			[]*tensors.Tensor{tensors.FromShape(shapes.Make(dtypes.Float32, 3))})
		require.Error(t, err)
	})

	t.Run("kernel failure", func(t *testing.T) {
		shape := shapes.Make(dtypes.Int32, 2)
		p := &artifact.Program{
			Name:       "int_div",
			Inputs:     []shapes.Shape{shape, shape},
			InputNames: []string{"a", "b"},
			Instructions: []artifact.Instruction{
				{Op: backends.OpTypeDiv, Inputs: []int{0, 1}, Output: 2, Shape: shape, Literal: artifact.NoLiteral},
			},
			Outputs:  []int{2},
			NumSlots: 3,
		}
		lib := must.M1(Load(writeArtifact(t, p, nil)))
		defer func() { require.NoError(t, lib.Close()) }()
		output := tensors.FromShape(shape)
		require.NoError(t, lib.Run([]*tensors.Tensor{tensors.FromValue([]int32{7, -7}), tensors.FromValue([]int32{2, 2})},
			[]*tensors.Tensor{output}))
		require.NoError(t, lib.Synchronize())
		assert.Equal(t, []int32{3, -3}, output.Value())

		// Division by zero.
		require.NoError(t, lib.Run([]*tensors.Tensor{tensors.FromValue([]int32{7, -7}), tensors.FromValue([]int32{0, 2})},
			[]*tensors.Tensor{output}))
		err := lib.Synchronize()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "int_div")
		assert.Contains(t, err.Error(), "instruction #0 (Div (Int32)[2]): runtime error: integer divide by zero")
		assert.NotContains(t, err.Error(), ": :")
		require.NoError(t, lib.Synchronize(), "error should be cleared after Synchronize")
	})
}

func TestUnresolvedSymbol(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 2)
	p := &artifact.Program{
		Name:       "callback",
		Inputs:     []shapes.Shape{shape},
		InputNames: []string{"x"},
		Instructions: []artifact.Instruction{
			{Op: backends.OpTypeHostCallback, Inputs: []int{0}, Output: 1, Shape: shape, Literal: artifact.NoLiteral},
		},
		Outputs:  []int{1},
		NumSlots: 2,
	}
	_, err := Load(writeArtifact(t, p, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gomlx_native_HostCallback_Float32")

	_, err = Load(filepath.Join(t.TempDir(), "missing"+artifact.ProgramExt))
	require.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	for op := backends.OpTypeConstant; op < backends.OpTypeLast; op++ {
		for dtype := range Capabilities.DTypes {
			if op.IsTranscendental() && !dtype.IsFloat() {
				continue
			}
			_, found := kernels[kernelKey{op, dtype}]
			if Capabilities.Operations[op] {
				assert.Truef(t, found, "missing kernel for %s", kernelKey{op, dtype}.Symbol())
			} else {
				assert.Falsef(t, found, "kernel %s exists but op is not in Capabilities", kernelKey{op, dtype}.Symbol())
			}
		}
	}
}
