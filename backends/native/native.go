// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package native loads AOT compiled artifacts (see package artifact) and executes them with
// Go kernels.
//
// Loading links every instruction of the program to a kernel, resolved by operation and dtype:
// a program requiring a kernel that doesn't exist fails to load, naming the missing symbol.
// Execution is asynchronous: Library.Run enqueues the work on the library stream, and
// Library.Synchronize waits for it.
//
// Example:
//
//	lib, err := native.Load(artifactPath)
//	if err != nil { ... }
//	defer lib.Close()
//	outputs := aot.AllocateForShapes(lib.Program().OutputShapes())
//	err = lib.Run(inputs, outputs)
//	if err == nil {
//		err = lib.Synchronize()
//	}
package native

import (
	"strings"
	"sync"

	"github.com/gomlx/aot/internal/workerspool"
	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Library is a loaded artifact, ready to be executed.
type Library struct {
	path, constantsPath string
	program             *artifact.Program
	exec                *executor
	stream              *Stream

	mu              sync.Mutex
	closed          bool
	constantsLoaded bool
	constantTensors []*tensors.Tensor
	constantBuffers []*buffer
}

type options struct {
	parallelism int
}

// Option configures Load.
type Option func(o *options)

// WithParallelism sets the maximum number of goroutines used by the kernels, overriding the default stored
// in the artifact. 0 means the number of CPUs, 1 runs everything in the stream goroutine.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// Load reads the artifact at path and links it.
//
// The constants side-file (see artifact.ConstantsPath) is only read on the first Run.
func Load(path string, opts ...Option) (*Library, error) {
	program, err := artifact.ReadProgram(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", path)
	}
	o := options{parallelism: program.Parallelism}
	for _, opt := range opts {
		opt(&o)
	}
	exec, err := link(program, workerspool.New(o.parallelism))
	if err != nil {
		return nil, errors.WithMessagef(err, "linking %q", path)
	}
	l := &Library{
		path:          path,
		constantsPath: artifact.ConstantsPath(path),
		program:       program,
		exec:          exec,
		stream:        NewStream(),
	}
	klog.V(1).Infof("loaded %q: %d instructions, %d inputs, %d constants, %d outputs", path,
		len(program.Instructions), len(program.Inputs), len(program.Constants), len(program.Outputs))
	return l, nil
}

// Path of the loaded artifact.
func (l *Library) Path() string { return l.path }

// ConstantsPath is where the constants side-file is looked for.
func (l *Library) ConstantsPath() string { return l.constantsPath }

// Program returns the loaded program. It must not be modified.
func (l *Library) Program() *artifact.Program { return l.program }

// Run enqueues the execution of the program with the given inputs, writing the results to outputs.
//
// The arguments of the program are inputs followed by the constants loaded from the constants side-file.
// If the constants side-file exists but can't be loaded, it returns a *ConstantsLoadError and nothing
// is executed.
//
// Run panics if the number or shapes of the arguments or outputs don't match the program: that's a bug
// in the caller.
//
// Inputs are copied before Run returns, so they can be reused right away. Outputs are only written
// when the execution succeeds, and must not be accessed until Synchronize returns.
func (l *Library) Run(inputs, outputs []*tensors.Tensor) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return errors.Errorf("Library.Run(%q) called after Close", l.path)
	}

	constantTensors, constantBuffers, err := l.constants()
	if err != nil {
		return err
	}
	arguments := append(append(make([]*tensors.Tensor, 0, len(inputs)+len(constantTensors)), inputs...),
		constantTensors...)
	checkSignature("arguments", l.program.ArgumentShapes(), arguments)
	checkSignature("outputs", l.program.OutputShapes(), outputs)

	argumentBuffers := make([]*buffer, 0, len(arguments))
	for ii, input := range inputs {
		b, err := bufferFromTensor(input)
		if err != nil {
			return errors.WithMessagef(err, "Library.Run(%q) input #%d", l.path, ii)
		}
		argumentBuffers = append(argumentBuffers, b)
	}
	argumentBuffers = append(argumentBuffers, constantBuffers...)

	outputs = append([]*tensors.Tensor(nil), outputs...)
	err = l.stream.Enqueue(func() error {
		results, err := l.exec.execute(argumentBuffers)
		if err != nil {
			return err
		}
		for ii, result := range results {
			if err := result.copyToTensor(outputs[ii]); err != nil {
				return errors.WithMessagef(err, "writing output #%d", ii)
			}
		}
		return nil
	})
	return errors.WithMessagef(err, "Library.Run(%q)", l.path)
}

// checkSignature panics if the tensors don't match the expected shapes.
func checkSignature(what string, want []shapes.Shape, got []*tensors.Tensor) {
	mismatch := len(want) != len(got)
	if !mismatch {
		for ii, t := range got {
			if t == nil || !t.Ok() || !t.Shape().Equal(want[ii]) {
				mismatch = true
				break
			}
		}
	}
	if !mismatch {
		return
	}
	gotShapes := make([]string, len(got))
	for ii, t := range got {
		if t == nil || !t.Ok() {
			gotShapes[ii] = "<invalid>"
		} else {
			gotShapes[ii] = t.Shape().String()
		}
	}
	wantShapes := make([]string, len(want))
	for ii, s := range want {
		wantShapes[ii] = s.String()
	}
	exceptions.Panicf("signature mismatch for %s: expected %d [%s], got %d [%s]", what,
		len(want), strings.Join(wantShapes, ", "), len(got), strings.Join(gotShapes, ", "))
}

// Synchronize waits for all enqueued executions, and returns the first error since the last call.
func (l *Library) Synchronize() error {
	return l.stream.Synchronize()
}

// Close waits for enqueued executions and releases the library. It returns any pending execution error.
// It is safe to call more than once.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.constantTensors, l.constantBuffers = nil, nil
	l.mu.Unlock()
	err := l.stream.Close()
	klog.V(1).Infof("closed %q", l.path)
	return err
}
