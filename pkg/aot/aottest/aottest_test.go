// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aottest

import (
	"math"
	"os"
	"testing"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/backends/native"
	"github.com/gomlx/aot/pkg/aot"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/graph"
	"github.com/gomlx/aot/pkg/core/pytree"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/initializer"
	"github.com/gomlx/aot/pkg/ml/layers"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *aot.Config {
	cfg := aot.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	return cfg
}

func randomTensor(seed uint64, dims ...int) *tensors.Tensor {
	return initializer.Normal(initializer.NewRNG(seed), 1)(shapes.Make(dtypes.Float32, dims...))
}

func addLinearModel(size int) model.Model {
	state := model.NewStateDict().
		AddParameter("weight", randomTensor(1, size, size)).
		AddParameter("bias", randomTensor(2, size))
	return model.NewFunc(state, func(s *model.Scope, args []any) any {
		x, y := args[0].(*graph.Node), args[1].(*graph.Node)
		return graph.Add(x, graph.Linear(y, s.Param("weight"), s.Param("bias")))
	})
}

func TestAddLinear(t *testing.T) {
	report := RequireEquivalent(t, Case{
		Name:   "add_linear",
		Model:  addLinearModel(10),
		Inputs: []any{randomTensor(3, 10, 10), randomTensor(4, 10, 10)},
		Config: testConfig(t),
	})
	assert.Equal(t, []State{StateInit, StateCompiled, StateLoaded, StateInvoked, StateCompared, StatePass},
		report.Transitions)
	assert.FileExists(t, report.ArtifactPath)
	assert.Equal(t, []int{10, 10}, report.Got.(*tensors.Tensor).Shape().Dimensions)
}

func TestAddLinearFreshInputs(t *testing.T) {
	m := addLinearModel(10)
	loaded, err := (&ModelRunner{Config: testConfig(t)}).Load(m,
		[]any{randomTensor(3, 10, 10), randomTensor(4, 10, 10)}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, loaded.Close()) }()

	x, y := randomTensor(5, 10, 10), randomTensor(6, 10, 10)
	want, err := model.Call(m, x, y)
	require.NoError(t, err)
	got, err := loaded.Run(x, y)
	require.NoError(t, err)
	mismatch, err := compare(got, want, DefaultTolerance)
	require.NoError(t, err)
	require.Nil(t, mismatch)

	again, err := loaded.Run(x, y)
	require.NoError(t, err)
	assert.True(t, again.(*tensors.Tensor).Equal(got.(*tensors.Tensor)), "runs must be bitwise identical")
}

// recordInputs is a struct input, given to the model as a map[string]any.
type recordInputs struct {
	X      *tensors.Tensor
	Shifts []*tensors.Tensor
}

func TestStructInputs(t *testing.T) {
	m := model.NewFunc(nil, func(s *model.Scope, args []any) any {
		record := args[0].(map[string]any)
		x := record["X"].(*graph.Node)
		for _, shift := range record["Shifts"].([]any) {
			x = graph.Sub(x, shift.(*graph.Node))
		}
		return x
	})
	for name, input := range map[string]any{
		"value":   recordInputs{X: randomTensor(1, 2, 3), Shifts: []*tensors.Tensor{randomTensor(2, 3)}},
		"pointer": &recordInputs{X: randomTensor(3, 2, 3), Shifts: []*tensors.Tensor{randomTensor(4, 3), randomTensor(5, 2, 3)}},
	} {
		t.Run(name, func(t *testing.T) {
			report := RequireEquivalent(t, Case{Name: "record_" + name, Model: m, Inputs: []any{input}, Config: testConfig(t)})
			assert.Equal(t, []int{2, 3}, report.Got.(*tensors.Tensor).Shape().Dimensions)
		})
	}
}

func TestTupleOutputs(t *testing.T) {
	m := model.NewFunc(nil, func(s *model.Scope, args []any) any {
		x, y := args[0].(*graph.Node), args[1].(*graph.Node)
		return []any{graph.Add(x, y), graph.ReduceSum(x, 1)}
	})
	report := RequireEquivalent(t, Case{
		Name:   "tuple",
		Model:  m,
		Inputs: []any{randomTensor(1, 3, 4), randomTensor(2, 3, 4)},
		Config: testConfig(t),
	})
	got := report.Got.([]any)
	require.Len(t, got, 2)
	assert.Equal(t, "(Float32)[3 4]", got[0].(*tensors.Tensor).Shape().String())
	assert.Equal(t, "(Float32)[3]", got[1].(*tensors.Tensor).Shape().String())
}

func TestSinMatMulCos(t *testing.T) {
	state := model.NewStateDict().AddParameter("w", randomTensor(7, 5, 3))
	m := model.NewFunc(state, func(s *model.Scope, args []any) any {
		return graph.Cos(graph.MatMul(graph.Sin(args[0].(*graph.Node)), s.Param("w")))
	})
	RequireEquivalent(t, Case{
		Name:   "sin_mm_cos",
		Model:  m,
		Inputs: []any{randomTensor(8, 4, 5)},
		Config: testConfig(t),
	})
}

func TestUnsqueezeCatGetItemSigmoid(t *testing.T) {
	m := model.NewFunc(nil, func(s *model.Scope, args []any) any {
		pair := args[0].(map[string]any)
		a, b := pair["a"].(*graph.Node), pair["b"].(*graph.Node)
		stacked := graph.Concatenate(0, graph.ExpandDims(a, 0), graph.ExpandDims(b, 0))
		return []any{graph.Sigmoid(graph.Index(stacked, 0, 1)), graph.Index(stacked, 0, 0)}
	})
	inputs := []any{map[string]*tensors.Tensor{"a": randomTensor(1, 2, 3), "b": randomTensor(2, 2, 3)}}
	report := RequireEquivalent(t, Case{Name: "unsqueeze_cat", Model: m, Inputs: inputs, Config: testConfig(t)})
	got := report.Got.([]any)
	assert.Equal(t, []int{2, 3}, got[0].(*tensors.Tensor).Shape().Dimensions)
	for _, v := range got[0].(*tensors.Tensor).ToFloat64s() {
		assert.True(t, v > 0 && v < 1)
	}
}

func TestConvBatchNorm(t *testing.T) {
	state := model.NewStateDict()
	cfg := backends.DefaultConvConfig()
	cfg.Padding = [2]int{1, 1}
	cfg.Strides = [2]int{2, 2}
	cfg.Groups = 2
	conv := layers.NewConv2D(state, "conv", dtypes.Float32, 4, 6, 3, cfg, true,
		initializer.GlorotUniform(initializer.NewRNG(1)))
	bn := layers.NewBatchNorm2D(state, "bn", dtypes.Float32, 6, 1e-5)
	head := layers.NewLinear(state, "fc", dtypes.Float32, 6, 2, true, initializer.GlorotUniform(initializer.NewRNG(2)))
	require.NoError(t, state.Get("bn.running_mean").CopyFrom(randomTensor(3, 6)))
	runningVar := initializer.Uniform(initializer.NewRNG(5), 0.5, 2)(shapes.Make(dtypes.Float32, 6))
	require.NoError(t, state.Get("bn.running_var").CopyFrom(runningVar))
	m := model.NewFunc(state, func(s *model.Scope, args []any) any {
		x := graph.Relu(bn.Apply(s, conv.Apply(s, args[0].(*graph.Node))))
		return head.Apply(s, graph.ReduceMean(x, 2, 3))
	})
	RequireEquivalent(t, Case{
		Name:    "conv_bn",
		Model:   m,
		Inputs:  []any{randomTensor(4, 2, 4, 9, 9)},
		Config:  testConfig(t),
		Options: []native.Option{native.WithParallelism(3)},
	})
}

// constantsModel uses a non-scalar constant, lifted to the constants side-file unless inlined.
var constantsModel = model.NewFunc(nil, func(s *model.Scope, args []any) any {
	offsets := graph.Const(s.Graph(), []float32{1, -2, 3})
	return graph.Mul(graph.Add(args[0].(*graph.Node), offsets), graph.Scalar(s.Graph(), dtypes.Float32, 0.5))
})

func TestConstantsFile(t *testing.T) {
	x := tensors.FromValue([]float32{10, 20, 30})

	lifted, err := (&ModelRunner{Config: testConfig(t)}).Load(constantsModel, []any{x}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, lifted.Close()) }()
	require.FileExists(t, lifted.Library.ConstantsPath())
	liftedOutput, err := lifted.Run(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{5.5, 9, 16.5}, liftedOutput.(*tensors.Tensor).Value())

	// Inlined constants: there is no constants file, and the results are the same.
	cfg := testConfig(t)
	cfg.InlineConstants = true
	inlined, err := (&ModelRunner{Config: cfg}).Load(constantsModel, []any{x}, liftedOutput)
	require.NoError(t, err)
	defer func() { require.NoError(t, inlined.Close()) }()
	require.NoFileExists(t, inlined.Library.ConstantsPath())
	inlinedOutput, err := inlined.Run(x)
	require.NoError(t, err)
	assert.True(t, inlinedOutput.(*tensors.Tensor).Equal(liftedOutput.(*tensors.Tensor)))

	// Identical inputs give bitwise identical outputs.
	again, err := lifted.Run(x)
	require.NoError(t, err)
	assert.True(t, again.(*tensors.Tensor).Equal(liftedOutput.(*tensors.Tensor)))

	// Wrong input structure.
	_, err = lifted.Run(x, x)
	require.ErrorIs(t, err, pytree.ErrStructureMismatch)
}

func TestCorruptConstantsFile(t *testing.T) {
	x := tensors.FromValue([]float32{10, 20, 30})
	loaded, err := (&ModelRunner{Config: testConfig(t)}).Load(constantsModel, []any{x}, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, loaded.Close()) }()
	require.NoError(t, os.WriteFile(loaded.Library.ConstantsPath(), []byte("corrupt"), 0o644))

	outputs := []*tensors.Tensor{tensors.FromValue([]float32{-1, -1, -1})}
	err = loaded.RunInto(outputs, x)
	var loadErr *native.ConstantsLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, artifact.ConstantsPath(loaded.Exported.ArtifactPath), loadErr.Path)
	assert.Equal(t, []float32{-1, -1, -1}, outputs[0].Value())
}

func TestOutputsMismatch(t *testing.T) {
	x := tensors.FromValue([]float32{10, 20, 30})
	_, err := (&ModelRunner{Config: testConfig(t)}).Load(constantsModel, []any{x}, tensors.FromValue([]float32{1, 2}))
	require.Error(t, err)
	_, err = (&ModelRunner{Config: testConfig(t)}).Load(constantsModel, []any{x}, []*tensors.Tensor{x, x})
	require.Error(t, err)
}

func TestCompilationFailures(t *testing.T) {
	x := randomTensor(1, 3)
	callback := model.NewFunc(nil, func(s *model.Scope, args []any) any {
		x := args[0].(*graph.Node)
		return graph.HostCallback("log", func(inputs []*tensors.Tensor) *tensors.Tensor { return inputs[0] },
			x.Shape(), x)
	})
	report, err := RunCase(Case{Name: "callback", Model: callback, Inputs: []any{x}, Config: testConfig(t)})
	var compileErr *aot.CompilationError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "HostCallback", compileErr.Construct)
	assert.Equal(t, StateInit, report.State)
	assert.NotNil(t, report.Want, "the reference is computed eagerly")

	dynamic := model.NewFunc(nil, func(s *model.Scope, args []any) any {
		x := args[0].(*graph.Node)
		if x.Value().ToFloat64s()[0] > 0 {
			return graph.Neg(x)
		}
		return graph.Abs(x)
	})
	report, err = RunCase(Case{Name: "dynamic", Model: dynamic, Inputs: []any{x}, Config: testConfig(t)})
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "dynamic control flow", compileErr.Construct)
	assert.Equal(t, StateInit, report.State)
}

func TestCompare(t *testing.T) {
	tol := DefaultTolerance
	want := []any{tensors.FromValue([]float32{1, 2}), tensors.FromValue([]float64{100})}

	mismatch, err := compare([]any{tensors.FromValue([]float32{1.0005, 2}), tensors.FromValue([]float64{100.1})}, want, tol)
	require.NoError(t, err)
	assert.Nil(t, mismatch)

	mismatch, err = compare([]any{tensors.FromValue([]float32{1, 2.01}), tensors.FromValue([]float64{100})}, want, tol)
	require.NoError(t, err)
	require.NotNil(t, mismatch)
	assert.Equal(t, 0, mismatch.Leaf)
	assert.Equal(t, 1, mismatch.Index)
	assert.InDelta(t, 2.01, mismatch.Got, 1e-6)
	assert.Equal(t, 2.0, mismatch.Want)
	assert.Contains(t, mismatch.Error(), "output #0 (Float32)[2] element 1")
	assert.Same(t, want[0], mismatch.WantTensor)
	assert.Equal(t, []float32{1, 2.01}, mismatch.GotTensor.Value())

	nan := float32(math.NaN())
	mismatch, err = compare([]any{tensors.FromValue([]float32{1, 2}), tensors.FromValue([]float64{100})},
		[]any{tensors.FromValue([]float32{1, nan}), tensors.FromValue([]float64{100})}, tol)
	require.NoError(t, err)
	require.NotNil(t, mismatch, "NaN is never close")

	_, err = compare([]any{tensors.FromValue([]float32{1, 2})}, want, tol)
	require.ErrorIs(t, err, pytree.ErrStructureMismatch)
	_, err = compare([]any{tensors.FromValue([]float32{1, 2, 3}), tensors.FromValue([]float64{100})}, want, tol)
	require.Error(t, err)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "Compared", StateCompared.String())
	assert.Equal(t, "State(42)", State(42).String())
}
