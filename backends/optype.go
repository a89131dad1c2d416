// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the set of operations shared by the computation graph, the AOT artifact
// format and the native runtime that executes compiled artifacts.
//
// The graph package records OpType values while tracing a model, the aot package lowers them to
// artifact instructions, and backends/native links each instruction to a kernel during Load.
package backends

import "fmt"

// OpType is an enum of all generic operations that can be recorded in a graph and lowered into an
// AOT artifact.
//
// The numeric values are part of the artifact format: only append new values before OpTypeLast.
type OpType int

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant

	// OpTypeHostCallback runs arbitrary Go code on materialized values. It only works in eager mode,
	// there is no native kernel for it.
	OpTypeHostCallback

	// Unary operations.
	OpTypeNeg
	OpTypeAbs
	OpTypeExp
	OpTypeLog
	OpTypeSin
	OpTypeCos
	OpTypeTanh
	OpTypeLogistic
	OpTypeSqrt
	OpTypeRsqrt

	// Binary operations: operands always have the same shape, broadcasting is explicit.
	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeDiv
	OpTypeMax
	OpTypeMin

	// Shape operations.
	OpTypeReshape
	OpTypeTranspose
	OpTypeBroadcastInDim
	OpTypeConcatenate
	OpTypeSlice

	// Contractions and reductions.
	OpTypeDot
	OpTypeReduceSum
	OpTypeConv2D

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

var opTypeNames = [OpTypeLast]string{
	OpTypeInvalid:        "Invalid",
	OpTypeParameter:      "Parameter",
	OpTypeConstant:       "Constant",
	OpTypeHostCallback:   "HostCallback",
	OpTypeNeg:            "Neg",
	OpTypeAbs:            "Abs",
	OpTypeExp:            "Exp",
	OpTypeLog:            "Log",
	OpTypeSin:            "Sin",
	OpTypeCos:            "Cos",
	OpTypeTanh:           "Tanh",
	OpTypeLogistic:       "Logistic",
	OpTypeSqrt:           "Sqrt",
	OpTypeRsqrt:          "Rsqrt",
	OpTypeAdd:            "Add",
	OpTypeSub:            "Sub",
	OpTypeMul:            "Mul",
	OpTypeDiv:            "Div",
	OpTypeMax:            "Max",
	OpTypeMin:            "Min",
	OpTypeReshape:        "Reshape",
	OpTypeTranspose:      "Transpose",
	OpTypeBroadcastInDim: "BroadcastInDim",
	OpTypeConcatenate:    "Concatenate",
	OpTypeSlice:          "Slice",
	OpTypeDot:            "Dot",
	OpTypeReduceSum:      "ReduceSum",
	OpTypeConv2D:         "Conv2D",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op >= OpTypeLast {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}

// IsUnary returns whether op is an element-wise unary operation.
func (op OpType) IsUnary() bool {
	return op >= OpTypeNeg && op <= OpTypeRsqrt
}

// IsBinary returns whether op is an element-wise binary operation.
func (op OpType) IsBinary() bool {
	return op >= OpTypeAdd && op <= OpTypeMin
}

// IsTranscendental returns whether op requires floating point operands.
func (op OpType) IsTranscendental() bool {
	switch op {
	case OpTypeExp, OpTypeLog, OpTypeSin, OpTypeCos, OpTypeTanh, OpTypeLogistic, OpTypeSqrt, OpTypeRsqrt:
		return true
	}
	return false
}
