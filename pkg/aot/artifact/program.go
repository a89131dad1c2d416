// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package artifact defines the files produced by the AOT compiler and consumed by the native runtime:
//
//   - The program file (extension ".gmxa"): a Program, a sequence of instructions over numbered value slots.
//   - The constants side-file ("<program path without extension>_constants.gmxc"): named lists of tensors,
//     the constants lifted out of the program, appended to the arguments when the program is executed.
//
// Both files start with a magic header and a format version, followed by gob encoded data.
package artifact

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/gomlx/aot/backends"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/aot/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Program is a compiled computation.
//
// Slots [0, len(Inputs)) hold the runtime arguments, followed by len(Constants) slots with the values of
// the constants side-file. Instructions are executed in order, each writing one slot.
type Program struct {
	Name string

	// Inputs shapes and names: parameters, then buffers, then the flattened runtime inputs.
	Inputs     []shapes.Shape
	InputNames []string

	// Constants shapes, loaded from the constants side-file.
	Constants []shapes.Shape

	// Literals are the constants inlined in the program.
	Literals []Literal

	Instructions []Instruction

	// Outputs slots, in order.
	Outputs []int

	// NumSlots is the total number of slots used.
	NumSlots int

	// Parallelism is the default number of workers used by the kernels. 0 means the number of CPUs.
	Parallelism int
}

// NoLiteral is the value of Instruction.Literal for instructions that are not inlined constants.
const NoLiteral = -1

// Instruction executes one operation.
type Instruction struct {
	Op backends.OpType

	// Inputs slots.
	Inputs []int

	// Output slot.
	Output int

	// Shape of the output.
	Shape shapes.Shape

	Attrs backends.Attrs

	// Literal is the index in Program.Literals of an OpTypeConstant, or NoLiteral.
	Literal int

	// Free lists the slots that are no longer used after this instruction.
	Free []int

	// Comment is an optional annotation, e.g. the origin of the instruction in the traced graph.
	Comment string
}

// Literal is a tensor inlined in a Program, stored in its gob serialized form.
type Literal struct {
	Shape shapes.Shape
	Data  []byte
}

// NewLiteral serializes the tensor into a Literal.
func NewLiteral(t *tensors.Tensor) (Literal, error) {
	var buf bytes.Buffer
	if err := t.GobSerialize(gob.NewEncoder(&buf)); err != nil {
		return Literal{}, errors.WithMessagef(err, "serializing literal")
	}
	return Literal{Shape: t.Shape().Clone(), Data: buf.Bytes()}, nil
}

// Tensor deserializes the literal.
func (l Literal) Tensor() (*tensors.Tensor, error) {
	t, err := tensors.GobDeserialize(gob.NewDecoder(bytes.NewReader(l.Data)))
	if err != nil {
		return nil, errors.WithMessagef(err, "deserializing literal")
	}
	if !t.Shape().Equal(l.Shape) {
		return nil, errors.Errorf("literal has shape %s, but its data has shape %s", l.Shape, t.Shape())
	}
	return t, nil
}

// NumArguments returns the number of arguments the program is called with: inputs and constants.
func (p *Program) NumArguments() int {
	return len(p.Inputs) + len(p.Constants)
}

// ArgumentShapes returns the shapes of all the arguments: inputs followed by constants.
func (p *Program) ArgumentShapes() []shapes.Shape {
	return append(append([]shapes.Shape{}, p.Inputs...), p.Constants...)
}

// OutputShapes returns the shapes of the outputs.
func (p *Program) OutputShapes() []shapes.Shape {
	slotShapes := p.slotShapes()
	outputShapes := make([]shapes.Shape, len(p.Outputs))
	for ii, slot := range p.Outputs {
		outputShapes[ii] = slotShapes[slot]
	}
	return outputShapes
}

func (p *Program) slotShapes() []shapes.Shape {
	slotShapes := make([]shapes.Shape, p.NumSlots)
	copy(slotShapes, p.ArgumentShapes())
	for _, inst := range p.Instructions {
		if inst.Output >= 0 && inst.Output < p.NumSlots {
			slotShapes[inst.Output] = inst.Shape
		}
	}
	return slotShapes
}

// Verify checks that the program is well-formed: every slot is written before being read, and the
// outputs are defined.
func (p *Program) Verify() error {
	if len(p.InputNames) != len(p.Inputs) {
		return errors.Errorf("program %q has %d inputs, but %d input names", p.Name, len(p.Inputs), len(p.InputNames))
	}
	if p.NumSlots < p.NumArguments() {
		return errors.Errorf("program %q uses %d slots, fewer than its %d arguments", p.Name, p.NumSlots, p.NumArguments())
	}
	defined := make([]bool, p.NumSlots)
	for ii := range p.NumArguments() {
		defined[ii] = true
	}
	checkSlot := func(ii, slot int) error {
		if slot < 0 || slot >= p.NumSlots {
			return errors.Errorf("program %q instruction #%d: invalid slot %d", p.Name, ii, slot)
		}
		return nil
	}
	for ii, inst := range p.Instructions {
		if inst.Op <= backends.OpTypeParameter || inst.Op >= backends.OpTypeLast {
			return errors.Errorf("program %q instruction #%d: invalid op %s", p.Name, ii, inst.Op)
		}
		for _, slot := range inst.Inputs {
			if err := checkSlot(ii, slot); err != nil {
				return err
			}
			if !defined[slot] {
				return errors.Errorf("program %q instruction #%d (%s): slot %d read before being written", p.Name, ii, inst.Op, slot)
			}
		}
		if err := checkSlot(ii, inst.Output); err != nil {
			return err
		}
		if inst.Op == backends.OpTypeConstant && (inst.Literal < 0 || inst.Literal >= len(p.Literals)) {
			return errors.Errorf("program %q instruction #%d: invalid literal %d", p.Name, ii, inst.Literal)
		}
		defined[inst.Output] = true
		for _, slot := range inst.Free {
			if err := checkSlot(ii, slot); err != nil {
				return err
			}
			defined[slot] = false
		}
	}
	for ii, slot := range p.Outputs {
		if slot < 0 || slot >= p.NumSlots || !defined[slot] {
			return errors.Errorf("program %q output #%d: slot %d is not defined", p.Name, ii, slot)
		}
	}
	return nil
}

// SlotName formats a slot reference as "$<slot>".
func SlotName(slot int) string {
	return fmt.Sprintf("$%d", slot)
}

// String returns a human-readable listing of the program.
func (p *Program) String() string {
	var sb strings.Builder
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&sb, format, args...) }
	w("program %q: %d inputs, %d constants, %d literals, %d instructions, %d slots\n",
		p.Name, len(p.Inputs), len(p.Constants), len(p.Literals), len(p.Instructions), p.NumSlots)
	for ii, shape := range p.Inputs {
		w("  input  $%d %q %s\n", ii, p.InputNames[ii], shape)
	}
	for ii, shape := range p.Constants {
		w("  const  $%d %s\n", len(p.Inputs)+ii, shape)
	}
	for _, inst := range p.Instructions {
		w("  $%d = %s%s(%s)", inst.Output, inst.Op, inst.Shape, strings.Join(xslices.Map(inst.Inputs, SlotName), ", "))
		if attrs := inst.Attrs.String(); attrs != "" {
			w(" {%s}", attrs)
		}
		if inst.Literal != NoLiteral {
			w(" literal=%d", inst.Literal)
		}
		if len(inst.Free) > 0 {
			w(" free=%v", inst.Free)
		}
		if inst.Comment != "" {
			w(" // %s", inst.Comment)
		}
		w("\n")
	}
	w("  return %s\n", strings.Join(xslices.Map(p.Outputs, SlotName), ", "))
	return sb.String()
}
