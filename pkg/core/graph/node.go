// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// NodeID is a unique identifier of a node within its Graph, assigned sequentially.
type NodeID int

// HostCallbackFn is the Go function executed by a HostCallback node.
type HostCallbackFn func(inputs []*tensors.Tensor) *tensors.Tensor

// Node represents the result of an operation in the computation graph: it has a static shape, and in eager
// graphs also its computed value.
type Node struct {
	graph  *Graph
	id     NodeID
	op     backends.OpType
	inputs []*Node
	shape  shapes.Shape
	attrs  *backends.Attrs

	// value is the result of eager nodes, or the value of a Constant.
	value *tensors.Tensor

	parameterIndex int
	callback       HostCallbackFn
}

// Graph the node belongs to.
func (n *Node) Graph() *Graph { return n.graph }

// ID of the node, unique within its graph.
func (n *Node) ID() NodeID { return n.id }

// Op returns the type of operation of the node.
func (n *Node) Op() backends.OpType { return n.op }

// Inputs of the node. Always empty for eager nodes, since they are released after execution.
func (n *Node) Inputs() []*Node { return n.inputs }

// Shape of the node.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the node's shape.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Rank of the node's shape.
func (n *Node) Rank() int { return n.shape.Rank() }

// Attrs returns the static attributes of the operation, it may be nil.
func (n *Node) Attrs() *backends.Attrs { return n.attrs }

// ParameterIndex returns the position of a Parameter node among the graph's parameters, or -1 for other nodes.
func (n *Node) ParameterIndex() int { return n.parameterIndex }

// ConstantValue returns the value of a Constant node, or nil for other nodes.
func (n *Node) ConstantValue() *tensors.Tensor {
	if n.op != backends.OpTypeConstant {
		return nil
	}
	return n.value
}

// Callback returns the Go function of a HostCallback node.
func (n *Node) Callback() HostCallbackFn { return n.callback }

// Value returns the concrete value of the node.
//
// On traced graphs there are no values yet: reading one means the model is using data dependent control flow,
// which cannot be compiled, and it panics with a *ConstructError. Constants are the exception.
func (n *Node) Value() *tensors.Tensor {
	if n.graph.eager || n.op == backends.OpTypeConstant {
		return n.value
	}
	panic(&ConstructError{
		Construct: "dynamic control flow",
		NodeID:    n.id,
		Reason:    fmt.Sprintf("value of traced node #%d (%s) read during tracing", n.id, n.op),
	})
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "#%d %s%s", n.id, n.op, n.shape)
	if len(n.inputs) > 0 {
		ids := make([]string, len(n.inputs))
		for ii, input := range n.inputs {
			ids[ii] = fmt.Sprintf("#%d", input.id)
		}
		_, _ = fmt.Fprintf(&sb, "(%s)", strings.Join(ids, ", "))
	}
	if attrs := n.attrs.String(); attrs != "" {
		_, _ = fmt.Fprintf(&sb, " {%s}", attrs)
	}
	return sb.String()
}

// ConstructError is thrown (panic) when a model uses a construct that cannot be traced, e.g.: reading a traced
// value (dynamic control flow).
type ConstructError struct {
	Construct string
	NodeID    NodeID
	Reason    string
}

// Error implements the error interface.
func (e *ConstructError) Error() string {
	return fmt.Sprintf("unsupported construct %q at node #%d: %s", e.Construct, e.NodeID, e.Reason)
}
