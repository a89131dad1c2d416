// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

// ForwardFn builds a model computation, see Model.Forward.
type ForwardFn func(s *Scope, args []any) any

// Func is a Model defined by a state and a forward function.
type Func struct {
	state   *StateDict
	forward ForwardFn
}

// NewFunc creates a Model from a forward function. The state may be nil.
func NewFunc(state *StateDict, forward ForwardFn) *Func {
	return &Func{state: state, forward: forward}
}

// State implements Model.
func (m *Func) State() *StateDict { return m.state }

// Forward implements Model.
func (m *Func) Forward(s *Scope, args []any) any { return m.forward(s, args) }
