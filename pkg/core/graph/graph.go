// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph builds computations over tensors, either eagerly or by tracing them.
//
// The same model code (see package pkg/ml/model) runs in both modes:
//
//   - Eager: created with NewEager. Every operation is executed immediately by the reference kernels
//     in this package, and Node.Value returns the result. Used as the reference when checking
//     compiled models.
//
//   - Traced: created with New. Operations are only recorded, with their static shapes, and later
//     lowered by the aot package into an artifact that is executed by the native runtime.
//
// # Error Handling
//
// Graph (and its Node's) methods "throw" errors with panic(), using github.com/gomlx/exceptions.
// This prevents having to manage error returning for every operation (Add, Sub, Mul, etc.) and makes
// the model code much more readable. Callers at the API boundary (e.g. aot.Compile, model.Call) convert
// them back to errors with exceptions.TryCatch.
//
// Broadcasting is always explicit in the recorded graph: binary operations on operands of different
// shapes insert BroadcastInDim nodes.
package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Graph records or eagerly executes computations. It's not safe for concurrent use.
type Graph struct {
	name  string
	eager bool

	// nextID is incremented for every new node, also in eager mode.
	nextID NodeID

	// nodes are only kept in traced mode.
	nodes      []*Node
	parameters []*Node
}

// New creates a traced Graph: operations are recorded, not executed.
func New(name string) *Graph {
	return &Graph{name: name}
}

// NewEager creates an eager Graph: operations are executed immediately with the reference kernels,
// and the nodes are not kept.
func NewEager() *Graph {
	return &Graph{name: "eager", eager: true}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// IsEager returns whether the graph executes operations immediately.
func (g *Graph) IsEager() bool { return g.eager }

// Nodes returns all nodes recorded so far, in creation order, their index matches their NodeID.
// It is always empty for eager graphs.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NumNodes created so far, including eager ones.
func (g *Graph) NumNodes() int { return int(g.nextID) }

// Parameters returns the parameter nodes of a traced graph, in the order they were created.
func (g *Graph) Parameters() []*Node { return g.parameters }

// Parameter creates a new parameter node: an input of the computation whose value is only given at execution.
// It panics for eager graphs, use Input instead.
func (g *Graph) Parameter(name string, shape shapes.Shape) *Node {
	if g.eager {
		exceptions.Panicf("Graph.Parameter(%q): eager graphs have no parameters, use Graph.Input", name)
	}
	if !shape.Ok() {
		exceptions.Panicf("Graph.Parameter(%q): invalid shape", name)
	}
	n := g.newNode(backends.OpTypeParameter, shape, &backends.Attrs{Name: name})
	n.parameterIndex = len(g.parameters)
	g.parameters = append(g.parameters, n)
	return n
}

// Input creates a node for the given value: a Parameter with the value's shape in traced graphs, or
// a node holding the value itself in eager graphs.
func (g *Graph) Input(name string, value *tensors.Tensor) *Node {
	value.AssertValid()
	if !g.eager {
		return g.Parameter(name, value.Shape())
	}
	n := g.newNode(backends.OpTypeParameter, value.Shape(), &backends.Attrs{Name: name})
	n.value = value
	return n
}

// Constant creates a node with a constant value. The tensor must not be changed afterwards.
func (g *Graph) Constant(value *tensors.Tensor) *Node {
	value.AssertValid()
	n := g.newNode(backends.OpTypeConstant, value.Shape(), nil)
	n.value = value
	return n
}

// Const creates a constant node from a Go value, anything accepted by tensors.FromAnyValue.
func Const(g *Graph, value any) *Node {
	return g.Constant(tensors.FromAnyValue(value))
}

// Scalar creates a scalar constant of the given dtype.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Node {
	return g.Constant(tensors.FromFloat64s(shapes.Make(dtype), []float64{value}))
}

// newNode creates and registers a new node. If the graph is eager, it executes the node with the reference
// kernels (unless it's a Parameter or Constant, whose values are set by the caller).
func (g *Graph) newNode(op backends.OpType, shape shapes.Shape, attrs *backends.Attrs, inputs ...*Node) *Node {
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("%s: input #%d is nil", op, ii)
		}
		if input.graph != g {
			exceptions.Panicf("%s: input #%d is from a different graph", op, ii)
		}
	}
	n := &Node{
		graph:          g,
		id:             g.nextID,
		op:             op,
		inputs:         inputs,
		shape:          shape,
		attrs:          attrs,
		parameterIndex: -1,
	}
	g.nextID++
	if !g.eager {
		g.nodes = append(g.nodes, n)
	}
	return n
}

// execEager computes the value of n with the reference kernels, and releases its inputs.
func (n *Node) execEager() {
	kernel := eagerKernels[n.op]
	if kernel == nil {
		exceptions.Panicf("no eager kernel for %s", n.op)
	}
	inputs := make([]*tensors.Tensor, len(n.inputs))
	for ii, input := range n.inputs {
		inputs[ii] = input.value
	}
	n.value = kernel(n, inputs)
	if !n.value.Shape().Equal(n.shape) {
		exceptions.Panicf("%s: eager result has shape %s, expected %s", n.op, n.value.Shape(), n.shape)
	}
	n.inputs = nil
}

// opNode creates a node for an operation, executing it if the graph is eager.
func (g *Graph) opNode(op backends.OpType, shape shapes.Shape, attrs *backends.Attrs, inputs ...*Node) *Node {
	n := g.newNode(op, shape, attrs, inputs...)
	if g.eager {
		n.execEager()
	}
	return n
}

// String lists the nodes of a traced graph, one per line.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph %q: %d nodes\n", g.name, g.NumNodes())
	for _, n := range g.nodes {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", n)
	}
	return sb.String()
}

// validateBuildingGraphFromInputs checks that all inputs are of the same graph, and returns it.
func validateBuildingGraphFromInputs(inputs ...*Node) *Graph {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes given")
	}
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("input node #%d is nil", ii)
		}
	}
	g := inputs[0].graph
	for ii, input := range inputs[1:] {
		if input.graph != g {
			exceptions.Panicf("combining nodes from different graphs not allowed: input node #%d is from a different graph", ii+1)
		}
	}
	return g
}
