// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aot

import "fmt"

// CompilationError is returned by Compile when the model can't be compiled: it uses a construct the native
// runtime can't execute, or tracing it failed.
type CompilationError struct {
	// Construct that failed, e.g. "HostCallback", "dynamic control flow" or the name of an operation.
	Construct string

	// NodeID of the graph node where it happened, or -1 if not associated with a node.
	NodeID int

	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.
func (e *CompilationError) Error() string {
	if e.NodeID >= 0 {
		return fmt.Sprintf("compilation failed: unsupported %s at node #%d: %s", e.Construct, e.NodeID, e.Reason)
	}
	return fmt.Sprintf("compilation failed: %s: %s", e.Construct, e.Reason)
}

// Unwrap returns the underlying error.
func (e *CompilationError) Unwrap() error { return e.Err }
