// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// OpType is an enum of the elementwise kernels a Hardware must support.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeDiv
	OpTypeNeg
)

// IsBinary returns whether the op takes two operands.
func (op OpType) IsBinary() bool {
	switch op {
	case OpTypeAdd, OpTypeSub, OpTypeMul, OpTypeDiv:
		return true
	default:
		return false
	}
}

// IsUnary returns whether the op takes one operand.
func (op OpType) IsUnary() bool {
	return op == OpTypeNeg
}
