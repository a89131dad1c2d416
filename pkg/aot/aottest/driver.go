// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aottest

import (
	"fmt"
	"testing"

	"github.com/gomlx/aot/backends/native"
	"github.com/gomlx/aot/pkg/aot"
	"github.com/gomlx/aot/pkg/core/pytree"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

// State of a case in RunCase.
type State int

const (
	StateInit State = iota
	StateCompiled
	StateLoaded
	StateInvoked
	StateCompared
	StatePass
	StateFail
)

var stateNames = []string{"Init", "Compiled", "Loaded", "Invoked", "Compared", "Pass", "Fail"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Tolerance of the comparison: values are close if |got - want| <= Atol + Rtol*|want|.
type Tolerance struct {
	Atol, Rtol float64
}

// DefaultTolerance used when a Case doesn't specify one.
var DefaultTolerance = Tolerance{Atol: 1e-3, Rtol: 1e-3}

// Case is a model and inputs to check.
type Case struct {
	Name   string
	Model  model.Model
	Inputs []any

	// Config of the compilation. If nil, aot.DefaultConfig is used.
	Config *aot.Config

	// Options to load the compiled artifact.
	Options []native.Option

	// Tolerance of the comparison. If nil, DefaultTolerance is used.
	Tolerance *Tolerance
}

// NumericMismatch is returned when a compiled output is not close to the eager reference.
type NumericMismatch struct {
	// Leaf is the index of the output in the flattened outputs, Index the element in the flat data.
	Leaf, Index int
	Got, Want   float64
	Tolerance   Tolerance

	// GotTensor and WantTensor are the mismatching output leaf and its reference.
	GotTensor, WantTensor *tensors.Tensor
}

// Error implements error.
func (e *NumericMismatch) Error() string {
	shape := ""
	if e.GotTensor != nil {
		shape = " " + e.GotTensor.Shape().String()
	}
	return fmt.Sprintf("output #%d%s element %d: got %g, want %g (atol=%g, rtol=%g)",
		e.Leaf, shape, e.Index, e.Got, e.Want, e.Tolerance.Atol, e.Tolerance.Rtol)
}

// Report of RunCase.
type Report struct {
	Case string

	// State reached: StatePass or StateFail when finished, the last successful state on error.
	State State

	// Transitions lists all states reached, in order.
	Transitions []State

	ArtifactPath string

	// Want is the eager reference, Got the compiled outputs, both with the structure returned by the model.
	Want, Got any

	Mismatch *NumericMismatch
}

func (r *Report) transition(s State) {
	klog.V(1).Infof("case %q: %s -> %s", r.Case, r.State, s)
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// RunCase compiles the case model, runs it with the native runtime and compares the results with the eager
// execution of the model.
//
// Any error is terminal and returned, along with the report of the states reached. A comparison failure is
// returned as a *NumericMismatch, with the report in StateFail.
func RunCase(c Case) (report *Report, err error) {
	report = &Report{Case: c.Name}
	report.transition(StateInit)
	tol := DefaultTolerance
	if c.Tolerance != nil {
		tol = *c.Tolerance
	}

	want, err := model.Call(c.Model, c.Inputs...)
	if err != nil {
		return report, errors.WithMessagef(err, "case %q: reference execution", c.Name)
	}
	report.Want = want

	_, exported, err := aot.Compile(c.Model, c.Inputs, c.Config)
	if err != nil {
		return report, errors.WithMessagef(err, "case %q", c.Name)
	}
	report.ArtifactPath = exported.ArtifactPath
	report.transition(StateCompiled)

	lib, err := native.Load(exported.ArtifactPath, c.Options...)
	if err != nil {
		return report, errors.WithMessagef(err, "case %q", c.Name)
	}
	loaded := &LoadedModel{Exported: exported, Library: lib}
	defer func() {
		if closeErr := loaded.Close(); closeErr != nil && err == nil {
			err = errors.WithMessagef(closeErr, "case %q: closing", c.Name)
		}
	}()
	report.transition(StateLoaded)

	got, err := loaded.Run(c.Inputs...)
	if err != nil {
		return report, errors.WithMessagef(err, "case %q", c.Name)
	}
	report.Got = got
	report.transition(StateInvoked)

	mismatch, err := compare(got, want, tol)
	if err != nil {
		return report, errors.WithMessagef(err, "case %q", c.Name)
	}
	report.transition(StateCompared)
	if mismatch != nil {
		report.Mismatch = mismatch
		report.transition(StateFail)
		return report, mismatch
	}
	report.transition(StatePass)
	return report, nil
}

// compare the structures got and want, and returns the first element not within tolerance.
// Differences in structure or shapes are errors.
func compare(got, want any, tol Tolerance) (*NumericMismatch, error) {
	gotLeaves, gotSpec, err := pytree.Flatten[*tensors.Tensor](got)
	if err != nil {
		return nil, err
	}
	wantLeaves, wantSpec, err := pytree.Flatten[*tensors.Tensor](want)
	if err != nil {
		return nil, err
	}
	if !gotSpec.Equal(wantSpec) {
		return nil, errors.Wrapf(pytree.ErrStructureMismatch, "compiled outputs %s, reference outputs %s",
			gotSpec, wantSpec)
	}
	for ii, gotLeaf := range gotLeaves {
		wantLeaf := wantLeaves[ii]
		if !gotLeaf.Shape().Equal(wantLeaf.Shape()) {
			return nil, errors.Errorf("output #%d has shape %s, reference has shape %s",
				ii, gotLeaf.Shape(), wantLeaf.Shape())
		}
		if m := gotLeaf.FirstMismatch(wantLeaf, tol.Atol, tol.Rtol); m != nil {
			return &NumericMismatch{
				Leaf: ii, Index: m.Index, Got: m.Got, Want: m.Want, Tolerance: tol,
				GotTensor: gotLeaf, WantTensor: wantLeaf,
			}, nil
		}
	}
	return nil, nil
}

// RequireEquivalent runs the case and fails the test if it doesn't pass.
func RequireEquivalent(t testing.TB, c Case) *Report {
	t.Helper()
	report, err := RunCase(c)
	require.NoErrorf(t, err, "case %q failed in state %s", c.Name, report.State)
	require.Equal(t, StatePass, report.State)
	return report
}
