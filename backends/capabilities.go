// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/gomlx/gopjrt/dtypes"
)

// Capabilities holds mappings of what is supported by a runtime.
type Capabilities struct {
	// Operations supported by a runtime.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[OpType]bool

	// DTypes list the data types supported by a runtime.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[OpType]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// Supports returns whether the operation is supported for the given dtype.
//
// Transcendental operations (see OpType.IsTranscendental) are only supported for float dtypes.
func (c Capabilities) Supports(op OpType, dtype dtypes.DType) bool {
	if !c.Operations[op] || !c.DTypes[dtype] {
		return false
	}
	if op.IsTranscendental() && !dtype.IsFloat() {
		return false
	}
	return true
}
