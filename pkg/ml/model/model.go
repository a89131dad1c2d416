// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines the Model abstraction used by the AOT compiler and its tests: a state (parameters and
// buffers, see StateDict) and a forward function that builds the computation with the graph package.
//
// The same Forward function is executed eagerly (see Call), to get reference results, or traced (see Build),
// to be compiled.
//
// Example: a model that adds a linear projection of its second input to its first input.
//
//	type addLinear struct{ state *model.StateDict }
//
//	func (m *addLinear) State() *model.StateDict { return m.state }
//
//	func (m *addLinear) Forward(s *model.Scope, args []any) any {
//		x, y := args[0].(*graph.Node), args[1].(*graph.Node)
//		return graph.Add(x, graph.Linear(y, s.Param("weight"), s.Param("bias")))
//	}
package model

import (
	"fmt"

	"github.com/gomlx/aot/pkg/core/graph"
	"github.com/gomlx/aot/pkg/core/pytree"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Model is the interface of models that can be executed and compiled.
//
// Models must be immutable while being executed or compiled.
type Model interface {
	// State returns the parameters and buffers of the model, it may be nil if the model has no state.
	State() *StateDict

	// Forward builds the model computation. The args have the structure of the inputs given to Call or Build,
	// with the tensors replaced by *graph.Node: containers typed for *tensors.Tensor are given as containers of `any`,
	// and structs (or pointers to structs) with *tensors.Tensor fields as a map[string]any keyed by field name.
	//
	// It returns a structure (see package pytree) of *graph.Node, e.g. a *graph.Node or a []any of them.
	//
	// Errors are reported by panicking, like in the graph package.
	Forward(s *Scope, args []any) any
}

// Scope gives access to the graph being built and to the model state.
type Scope struct {
	g        *graph.Graph
	training bool
	nodes    map[string]*graph.Node
}

// NewScope creates a Scope for graph g, with one input node per state entry, in the StateDict order.
func NewScope(g *graph.Graph, state *StateDict, training bool) *Scope {
	s := &Scope{g: g, training: training, nodes: make(map[string]*graph.Node, state.Len())}
	for _, entry := range state.Entries() {
		s.nodes[entry.Name] = g.Input(entry.Name, entry.Value)
	}
	return s
}

// Graph being built.
func (s *Scope) Graph() *graph.Graph { return s.g }

// Training returns whether the model is being built for training. Compiled models are always built for inference.
func (s *Scope) Training() bool { return s.training }

// Param returns the node of the state entry (parameter or buffer) with the given name.
// It panics if there is no such entry.
func (s *Scope) Param(name string) *graph.Node {
	n, found := s.nodes[name]
	if !found {
		exceptions.Panicf("model state has no entry %q", name)
	}
	return n
}

// Built is the result of the Build function.
type Built struct {
	// Graph built.
	Graph *graph.Graph

	// Inputs nodes: the flattened inputs, after the state nodes.
	Inputs []*graph.Node

	// InSpec is the structure of the inputs.
	InSpec *pytree.TreeSpec

	// Outputs nodes, flattened.
	Outputs []*graph.Node

	// OutSpec is the structure of the outputs.
	OutSpec *pytree.TreeSpec
}

// Build executes m.Forward on graph g with the given inputs, structures of tensors (see package pytree).
//
// The state of the model are the first inputs of the graph, followed by the flattened inputs. For traced graphs
// only the shapes of the inputs are used.
//
// Panics during Forward are returned as errors. A *graph.ConstructError is returned unwrapped, so callers can
// identify it with errors.As.
func Build(g *graph.Graph, m Model, training bool, inputs []any) (*Built, error) {
	leaves, inSpec, err := pytree.Flatten[*tensors.Tensor](inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "flattening model inputs")
	}
	b := &Built{Graph: g, InSpec: inSpec}
	var outputs any
	err = exceptions.TryCatch[error](func() {
		s := NewScope(g, m.State(), training)
		b.Inputs = make([]*graph.Node, len(leaves))
		for ii, leaf := range leaves {
			b.Inputs[ii] = g.Input(fmt.Sprintf("input_%d", ii), leaf)
		}
		args, err := pytree.Unflatten(b.Inputs, inSpec)
		if err != nil {
			panic(err)
		}
		outputs = m.Forward(s, args.([]any))
	})
	if err != nil {
		return nil, err
	}
	b.Outputs, b.OutSpec, err = pytree.Flatten[*graph.Node](outputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "model outputs must be a structure of *graph.Node")
	}
	for ii, output := range b.Outputs {
		if output == nil || output.Graph() != g {
			return nil, errors.Errorf("model output #%d is not a node of the graph being built", ii)
		}
	}
	return b, nil
}

// Call executes the model eagerly, with training disabled, and returns the outputs with the same structure
// returned by Forward, with *tensors.Tensor leaves.
func Call(m Model, inputs ...any) (any, error) {
	b, err := Build(graph.NewEager(), m, false, inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "eager execution of model")
	}
	values := make([]*tensors.Tensor, len(b.Outputs))
	for ii, output := range b.Outputs {
		values[ii] = output.Value()
	}
	return pytree.Unflatten(values, b.OutSpec)
}
