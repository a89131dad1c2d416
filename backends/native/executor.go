// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"runtime"

	"github.com/gomlx/aot/internal/workerspool"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// executor interprets a linked program: each instruction already resolved to its kernel.
// It holds no per-execution state, so it can be reused.
type executor struct {
	program  *artifact.Program
	pool     *workerspool.Pool
	kernels  []kernel
	literals []*buffer
}

// link resolves the kernels of every instruction and decodes the literals.
func link(program *artifact.Program, pool *workerspool.Pool) (*executor, error) {
	x := &executor{
		program:  program,
		pool:     pool,
		kernels:  make([]kernel, len(program.Instructions)),
		literals: make([]*buffer, len(program.Literals)),
	}
	for ii := range program.Instructions {
		inst := &program.Instructions[ii]
		key, k, found := lookupKernel(inst)
		if !found {
			return nil, errors.Errorf("unresolved symbol %s, required by instruction #%d (%s)", key.Symbol(), ii, inst.Op)
		}
		x.kernels[ii] = k
	}
	for ii, literal := range program.Literals {
		t, err := literal.Tensor()
		if err != nil {
			return nil, errors.WithMessagef(err, "literal #%d", ii)
		}
		x.literals[ii], err = bufferFromTensor(t)
		if err != nil {
			return nil, errors.WithMessagef(err, "literal #%d", ii)
		}
	}
	return x, nil
}

// execute runs the program on the arguments (inputs followed by constants), and returns the buffers of
// the program outputs. Kernel panics are returned as errors.
func (x *executor) execute(arguments []*buffer) (outputs []*buffer, err error) {
	err = exceptions.TryCatch[error](func() {
		slots := make([]*buffer, x.program.NumSlots)
		copy(slots, arguments)
		inputs := make([]*buffer, 0, 8)
		for ii := range x.program.Instructions {
			inst := &x.program.Instructions[ii]
			inputs = inputs[:0]
			for _, slot := range inst.Inputs {
				inputs = append(inputs, slots[slot])
			}
			result := x.runKernel(ii, inst, inputs)
			if !result.shape.Equal(inst.Shape) {
				exceptions.Panicf("kernel for instruction #%d (%s) returned shape %s, expected %s",
					ii, inst.Op, result.shape, inst.Shape)
			}
			slots[inst.Output] = result
			for _, slot := range inst.Free {
				slots[slot] = nil
			}
		}
		outputs = make([]*buffer, len(x.program.Outputs))
		for ii, slot := range x.program.Outputs {
			outputs[ii] = slots[slot]
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "executing %q", x.program.Name)
	}
	return outputs, nil
}

// runKernel executes instruction #ii. Runtime errors (e.g. integer division by zero) are re-raised as
// errors naming the instruction.
func (x *executor) runKernel(ii int, inst *artifact.Instruction, inputs []*buffer) *buffer {
	defer func() {
		if r := recover(); r != nil {
			if runtimeErr, ok := r.(runtime.Error); ok {
				panic(errors.Wrapf(runtimeErr, "instruction #%d (%s %s)", ii, inst.Op, inst.Shape))
			}
			panic(r)
		}
	}()
	return x.kernels[ii](x, inst, inputs)
}
