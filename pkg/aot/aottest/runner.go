// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package aottest checks that compiled models produce the same results as their eager execution.
//
// ModelRunner compiles and loads a model, and LoadedModel runs it with structured inputs, like the model
// itself. RunCase (and the testify helper RequireEquivalent) goes through the whole cycle for one case:
// eager reference, compilation, loading, invocation and comparison.
package aottest

import (
	"slices"

	"github.com/gomlx/aot/backends/native"
	"github.com/gomlx/aot/pkg/aot"
	"github.com/gomlx/aot/pkg/core/pytree"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/pkg/errors"
)

// ModelRunner compiles models and loads them with the native runtime.
type ModelRunner struct {
	// Config of the compilation. If nil, aot.DefaultConfig is used.
	Config *aot.Config

	// Options used when loading the artifact.
	Options []native.Option
}

// LoadedModel is a compiled model loaded in the native runtime. It must be closed with Close.
type LoadedModel struct {
	Exported *aot.ExportedProgram
	Library  *native.Library
}

// Load compiles m for the exampleInputs and loads the artifact.
//
// If exampleOutputs is not nil, it must have the structure and shapes of the model outputs, otherwise
// Load fails.
func (r *ModelRunner) Load(m model.Model, exampleInputs []any, exampleOutputs any) (*LoadedModel, error) {
	_, exported, err := aot.Compile(m, exampleInputs, r.Config)
	if err != nil {
		return nil, err
	}
	if exampleOutputs != nil {
		outputs, spec, err := aot.AllocateOutputs(exampleOutputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "example outputs")
		}
		if !spec.Equal(exported.CallSpec.OutSpec) {
			return nil, errors.Errorf("example outputs have structure %s, but the model returns %s",
				spec, exported.CallSpec.OutSpec)
		}
		for ii, output := range outputs {
			if !output.Shape().Equal(exported.OutputShapes[ii]) {
				return nil, errors.Errorf("example output #%d has shape %s, but the model returns %s",
					ii, output.Shape(), exported.OutputShapes[ii])
			}
		}
	}
	lib, err := native.Load(exported.ArtifactPath, r.Options...)
	if err != nil {
		return nil, err
	}
	return &LoadedModel{Exported: exported, Library: lib}, nil
}

// Arguments returns the flat arguments for the given structured inputs: the model state followed by the
// flattened inputs. The inputs must have the same structure as the example inputs used to compile.
func (lm *LoadedModel) Arguments(inputs ...any) ([]*tensors.Tensor, error) {
	leaves, err := pytree.FlattenWithSpec[*tensors.Tensor](inputs, lm.Exported.CallSpec.InSpec)
	if err != nil {
		return nil, errors.WithMessagef(err, "inputs don't match the compiled structure %s",
			lm.Exported.CallSpec.InSpec)
	}
	return append(slices.Clone(lm.Exported.State.Values()), leaves...), nil
}

// RunInto runs the model on the inputs writing the results to outputs, a flat list of tensors with the
// output shapes (see aot.AllocateForShapes). It waits for the execution to finish.
func (lm *LoadedModel) RunInto(outputs []*tensors.Tensor, inputs ...any) error {
	arguments, err := lm.Arguments(inputs...)
	if err != nil {
		return err
	}
	if err := lm.Library.Run(arguments, outputs); err != nil {
		return err
	}
	return lm.Library.Synchronize()
}

// Run runs the model on the inputs, and returns the outputs with the structure returned by the model.
func (lm *LoadedModel) Run(inputs ...any) (any, error) {
	outputs := aot.AllocateForShapes(lm.OutputShapes())
	if err := lm.RunInto(outputs, inputs...); err != nil {
		return nil, err
	}
	return pytree.Unflatten(outputs, lm.Exported.CallSpec.OutSpec)
}

// OutputShapes of the flattened outputs.
func (lm *LoadedModel) OutputShapes() []shapes.Shape {
	return lm.Exported.OutputShapes
}

// Close unloads the model.
func (lm *LoadedModel) Close() error {
	return lm.Library.Close()
}
