// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package aot compiles models ahead-of-time into artifacts executed by the native runtime (package
// backends/native).
//
// Compile traces the model forward function with training disabled, for the given example inputs, and
// lowers the traced graph into an artifact.Program. The arguments of the compiled program are the model
// state (parameters, then buffers) followed by the flattened inputs, and then the constants stored in
// the constants side-file.
//
// Compilation never falls back: models using constructs without a native kernel (host callbacks, values
// read during tracing, unsupported dtypes) fail with a *CompilationError.
package aot

import (
	"os"
	"path/filepath"

	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/graph"
	"github.com/gomlx/aot/pkg/core/pytree"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CallSpec is the structure of the inputs and outputs of a compiled model.
type CallSpec struct {
	InSpec, OutSpec *pytree.TreeSpec
}

// ExportedProgram is the result of a compilation. It is immutable.
type ExportedProgram struct {
	// State is a copy of the model state at the time of the compilation: its values are the leading
	// arguments of the program.
	State *model.StateDict

	CallSpec CallSpec

	// InputShapes of the flattened inputs (not including the state) and OutputShapes of the flattened outputs.
	InputShapes, OutputShapes []shapes.Shape

	Program *artifact.Program

	// Constants written to the constants side-file.
	Constants []*tensors.Tensor

	// ArtifactPath and ConstantsPath of the written files. The constants file is only written if
	// there are constants.
	ArtifactPath, ConstantsPath string
}

// Compile traces m with the exampleInputs (structures of tensors, see package pytree, of which only the shapes
// are used) and writes the compiled artifact. It returns the path of the artifact.
//
// If cfg is nil, DefaultConfig is used.
func Compile(m model.Model, exampleInputs []any, cfg *Config) (string, *ExportedProgram, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	state, err := m.State().Clone()
	if err != nil {
		return "", nil, errors.WithMessagef(err, "Compile(%q)", cfg.Name)
	}

	built, err := model.Build(graph.New(cfg.Name), m, false, exampleInputs)
	if err != nil {
		var constructErr *graph.ConstructError
		if errors.As(err, &constructErr) {
			return "", nil, &CompilationError{
				Construct: constructErr.Construct,
				NodeID:    int(constructErr.NodeID),
				Reason:    constructErr.Reason,
				Err:       err,
			}
		}
		return "", nil, &CompilationError{Construct: "tracing", NodeID: -1, Reason: err.Error(), Err: err}
	}
	program, constants, err := lower(built, cfg)
	if err != nil {
		return "", nil, err
	}

	exported := &ExportedProgram{
		State:        state,
		CallSpec:     CallSpec{InSpec: built.InSpec, OutSpec: built.OutSpec},
		InputShapes:  nodeShapes(built.Inputs),
		OutputShapes: nodeShapes(built.Outputs),
		Program:      program,
		Constants:    constants,
	}
	dir, err := cfg.outputDir()
	if err != nil {
		return "", nil, err
	}
	exported.ArtifactPath = filepath.Join(dir, cfg.Name+artifact.ProgramExt)
	exported.ConstantsPath = artifact.ConstantsPath(exported.ArtifactPath)
	if err := artifact.WriteProgram(exported.ArtifactPath, program); err != nil {
		return "", nil, err
	}
	if len(constants) > 0 {
		err = artifact.WriteConstants(exported.ConstantsPath, []string{artifact.TensorListAttribute},
			[][]*tensors.Tensor{constants})
	} else if err = os.Remove(exported.ConstantsPath); errors.Is(err, os.ErrNotExist) {
		// Remove a stale constants file from previous compilations.
		err = nil
	}
	if err != nil {
		return "", nil, errors.Wrapf(err, "Compile(%q) constants", cfg.Name)
	}

	klog.V(1).Infof("compiled %q: %d graph nodes, %d instructions, %d literals, %d constants, %d slots -> %s",
		cfg.Name, built.Graph.NumNodes(), len(program.Instructions), len(program.Literals), len(constants),
		program.NumSlots, exported.ArtifactPath)
	if klog.V(2).Enabled() {
		klog.Infof("%s", program)
	}
	return exported.ArtifactPath, exported, nil
}

func nodeShapes(nodes []*graph.Node) []shapes.Shape {
	result := make([]shapes.Shape, len(nodes))
	for ii, n := range nodes {
		result[ii] = n.Shape().Clone()
	}
	return result
}

// AllocateOutputs returns one zero initialized tensor for each leaf of exampleOutputs, a structure of
// tensors, with the same shape. Only the shapes of the leaves are used. It also returns the structure,
// to rebuild the outputs with pytree.Unflatten.
func AllocateOutputs(exampleOutputs any) ([]*tensors.Tensor, *pytree.TreeSpec, error) {
	leaves, spec, err := pytree.Flatten[*tensors.Tensor](exampleOutputs)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "AllocateOutputs")
	}
	outputs := make([]*tensors.Tensor, len(leaves))
	for ii, leaf := range leaves {
		if leaf == nil || !leaf.Ok() {
			return nil, nil, errors.Errorf("AllocateOutputs: example output #%d is not a valid tensor", ii)
		}
		outputs[ii] = tensors.FromShape(leaf.Shape().Clone())
	}
	return outputs, spec, nil
}

// AllocateForShapes returns one zero initialized tensor per shape.
func AllocateForShapes(outputShapes []shapes.Shape) []*tensors.Tensor {
	outputs := make([]*tensors.Tensor, len(outputShapes))
	for ii, shape := range outputShapes {
		outputs[ii] = tensors.FromShape(shape)
	}
	return outputs
}
