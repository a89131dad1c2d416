// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"github.com/gomlx/aot/backends"
	"github.com/gomlx/gopjrt/dtypes"
)

// Capabilities of the native runtime: the AOT compiler refuses to compile anything else.
// HostCallback is not supported: there is no native code to call back into.
var Capabilities = backends.Capabilities{
	Operations: map[backends.OpType]bool{
		backends.OpTypeParameter:      true,
		backends.OpTypeConstant:       true,
		backends.OpTypeNeg:            true,
		backends.OpTypeAbs:            true,
		backends.OpTypeExp:            true,
		backends.OpTypeLog:            true,
		backends.OpTypeSin:            true,
		backends.OpTypeCos:            true,
		backends.OpTypeTanh:           true,
		backends.OpTypeLogistic:       true,
		backends.OpTypeSqrt:           true,
		backends.OpTypeRsqrt:          true,
		backends.OpTypeAdd:            true,
		backends.OpTypeSub:            true,
		backends.OpTypeMul:            true,
		backends.OpTypeDiv:            true,
		backends.OpTypeMax:            true,
		backends.OpTypeMin:            true,
		backends.OpTypeReshape:        true,
		backends.OpTypeTranspose:      true,
		backends.OpTypeBroadcastInDim: true,
		backends.OpTypeConcatenate:    true,
		backends.OpTypeSlice:          true,
		backends.OpTypeDot:            true,
		backends.OpTypeReduceSum:      true,
		backends.OpTypeConv2D:         true,
	},
	DTypes: map[dtypes.DType]bool{
		dtypes.Float16:  true,
		dtypes.BFloat16: true,
		dtypes.Float32:  true,
		dtypes.Float64:  true,
		dtypes.Int32:    true,
		dtypes.Int64:    true,
	},
}
