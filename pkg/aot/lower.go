// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aot

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/backends/native"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/graph"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/gomlx/aot/pkg/support/sets"
	"github.com/pkg/errors"
)

// neverFreed is the last use of the nodes that are program outputs.
const neverFreed = math.MaxInt

// lowering converts a traced graph into an artifact.Program. Per node state is indexed by graph.NodeID.
type lowering struct {
	cfg     *Config
	built   *model.Built
	program *artifact.Program

	// constants lifted to the constants side-file, in order.
	constants []*tensors.Tensor

	// inputs and attrs of each node, after fusions.
	inputs [][]*graph.Node
	attrs  []backends.Attrs

	live    []bool
	slots   []int
	lastUse []int

	freeSlots []int
}

func lower(built *model.Built, cfg *Config) (*artifact.Program, []*tensors.Tensor, error) {
	nodes := built.Graph.Nodes()
	l := &lowering{
		cfg:     cfg,
		built:   built,
		program: &artifact.Program{Name: cfg.Name, Parallelism: cfg.Parallelism},
		inputs:  make([][]*graph.Node, len(nodes)),
		attrs:   make([]backends.Attrs, len(nodes)),
		live:    make([]bool, len(nodes)),
		slots:   make([]int, len(nodes)),
		lastUse: make([]int, len(nodes)),
	}
	for ii := range l.slots {
		l.slots[ii] = -1
		l.lastUse[ii] = -1
	}
	l.rewrite()
	l.markLive()
	if err := l.checkSupported(); err != nil {
		return nil, nil, err
	}
	if err := l.emit(); err != nil {
		return nil, nil, err
	}
	if err := l.program.Verify(); err != nil {
		return nil, nil, errors.WithMessagef(err, "lowering produced an invalid program, please report")
	}
	return l.program, l.constants, nil
}

// rewrite copies the inputs and attributes of every node, applying the fusions enabled in the configuration.
func (l *lowering) rewrite() {
	for _, n := range l.built.Graph.Nodes() {
		id := n.ID()
		l.inputs[id] = n.Inputs()
		if n.Attrs() != nil {
			l.attrs[id] = *n.Attrs()
		}
		if l.cfg.FuseTransposedMatMul && n.Op() == backends.OpTypeDot && !l.attrs[id].TransposeB {
			rhs := n.Inputs()[1]
			if rhs.Op() == backends.OpTypeTranspose && slices.Equal(rhs.Attrs().Axes, []int{1, 0}) {
				l.inputs[id] = []*graph.Node{n.Inputs()[0], rhs.Inputs()[0]}
				l.attrs[id].TransposeB = true
			}
		}
	}
}

// markLive marks the nodes the outputs depend on. Inputs always have a lower id than their users.
func (l *lowering) markLive() {
	for _, output := range l.built.Outputs {
		l.live[output.ID()] = true
	}
	for id := len(l.live) - 1; id >= 0; id-- {
		if l.live[id] {
			for _, input := range l.inputs[id] {
				l.live[input.ID()] = true
			}
		}
	}
}

// checkSupported returns a *CompilationError for the first live node the native runtime can't execute.
func (l *lowering) checkSupported() error {
	for _, n := range l.built.Graph.Nodes() {
		if !l.live[n.ID()] || n.Op() == backends.OpTypeParameter {
			continue
		}
		if n.Op() == backends.OpTypeHostCallback {
			return &CompilationError{
				Construct: "HostCallback",
				NodeID:    int(n.ID()),
				Reason:    fmt.Sprintf("host callback %q runs Go code that can't be compiled", l.attrs[n.ID()].Name),
			}
		}
		if !native.Capabilities.Supports(n.Op(), n.DType()) || !native.HasKernel(n.Op(), n.DType()) {
			return &CompilationError{
				Construct: n.Op().String(),
				NodeID:    int(n.ID()),
				Reason:    fmt.Sprintf("no native kernel for %s with dtype %s", n.Op(), n.DType()),
			}
		}
	}
	return nil
}

// inlined returns whether the constant node is stored in the program, as opposed to the constants side-file.
func (l *lowering) inlined(n *graph.Node) bool {
	return l.cfg.InlineConstants || n.Shape().IsScalar()
}

// allocSlot returns a free slot, reusing the most recently freed one.
func (l *lowering) allocSlot() int {
	if len(l.freeSlots) > 0 {
		slot := l.freeSlots[len(l.freeSlots)-1]
		l.freeSlots = l.freeSlots[:len(l.freeSlots)-1]
		return slot
	}
	slot := l.program.NumSlots
	l.program.NumSlots++
	return slot
}

func (l *lowering) emit() error {
	p := l.program
	nodes := l.built.Graph.Nodes()

	// Arguments: all parameters (even if unused, to keep the signature), then the lifted constants.
	for _, param := range l.built.Graph.Parameters() {
		l.slots[param.ID()] = param.ParameterIndex()
		p.Inputs = append(p.Inputs, param.Shape().Clone())
		p.InputNames = append(p.InputNames, param.Attrs().Name)
	}
	var order []*graph.Node
	for _, n := range nodes {
		if !l.live[n.ID()] || n.Op() == backends.OpTypeParameter {
			continue
		}
		if n.Op() == backends.OpTypeConstant && !l.inlined(n) {
			l.slots[n.ID()] = len(p.Inputs) + len(l.constants)
			l.constants = append(l.constants, n.ConstantValue())
			p.Constants = append(p.Constants, n.Shape().Clone())
			continue
		}
		order = append(order, n)
	}
	p.NumSlots = len(p.Inputs) + len(p.Constants)

	for idx, n := range order {
		for _, input := range l.inputs[n.ID()] {
			l.lastUse[input.ID()] = idx
		}
	}
	for _, output := range l.built.Outputs {
		l.lastUse[output.ID()] = neverFreed
	}

	for idx, n := range order {
		id := n.ID()
		inst := artifact.Instruction{
			Op:      n.Op(),
			Shape:   n.Shape().Clone(),
			Attrs:   l.attrs[id],
			Literal: artifact.NoLiteral,
		}
		for _, input := range l.inputs[id] {
			inst.Inputs = append(inst.Inputs, l.slots[input.ID()])
		}
		if n.Op() == backends.OpTypeConstant {
			literal, err := artifact.NewLiteral(n.ConstantValue())
			if err != nil {
				return errors.WithMessagef(err, "lowering constant node #%d", id)
			}
			inst.Literal = len(p.Literals)
			p.Literals = append(p.Literals, literal)
		}
		// The output slot is allocated before releasing the inputs: a slot freed by an instruction can only be
		// reused by the following ones.
		inst.Output = l.allocSlot()
		l.slots[id] = inst.Output
		freed := sets.Make[graph.NodeID](len(l.inputs[id]))
		for _, input := range l.inputs[id] {
			if l.lastUse[input.ID()] != idx || freed.Has(input.ID()) {
				continue
			}
			freed.Insert(input.ID())
			inst.Free = append(inst.Free, l.slots[input.ID()])
		}
		l.freeSlots = append(l.freeSlots, inst.Free...)
		if l.cfg.CommentOrigin {
			inst.Comment = fmt.Sprintf("seq_nr:%d", id)
		}
		p.Instructions = append(p.Instructions, inst)
	}

	for _, output := range l.built.Outputs {
		p.Outputs = append(p.Outputs, l.slots[output.ID()])
	}
	return nil
}
