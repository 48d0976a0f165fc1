// Package api includes the value types and interfaces shared by the runtime and host code that calls
// into instances or is called by them.
package api

import (
	"context"
	"math"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ValueType describes a numeric type. Every value crosses the host boundary as raw bits in uint64
// words:
//   - ValueTypeI32 - uint64(uint32(int32))
//   - ValueTypeI64 - uint64(int64)
//   - ValueTypeF32 - EncodeF32 and DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 and DecodeF64 from float64
//   - ValueTypeV128 - two words, low half first. See EncodeV128_I32x4 and EncodeV128_I64x2.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
	// ValueTypeV128 is a 128-bit vector value.
	ValueTypeV128 ValueType = 0x7b
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	}
	return "unknown"
}

// GoFunction is a host function. params hold the raw bits of each parameter, and the returned slice
// the raw bits of each result.
//
// A non-nil error aborts the calling instance's current call and is returned to whoever invoked it.
type GoFunction func(ctx context.Context, params []uint64) ([]uint64, error)

// Memory is a linear memory as seen by the host.
//
// The memory never moves: its base address is fixed for its lifetime, and Grow only makes more of
// the reservation accessible.
type Memory interface {
	// Size returns the size in bytes.
	Size() uint64

	// Pages returns the size in pages of 65536 bytes.
	Pages() uint32

	// Grow adds deltaPages and returns the previous page count, or an error if the maximum would be
	// exceeded.
	Grow(deltaPages uint32) (previousPages uint32, err error)

	// Read returns a view of byteCount bytes at the offset or returns false if out of range.
	Read(offset, byteCount uint32) ([]byte, bool)

	// ReadUint32Le reads a little-endian uint32 at the offset or returns false if out of range.
	ReadUint32Le(offset uint32) (uint32, bool)

	// ReadUint64Le reads a little-endian uint64 at the offset or returns false if out of range.
	ReadUint64Le(offset uint32) (uint64, bool)

	// WriteUint32Le writes a little-endian uint32 at the offset or returns false if out of range.
	WriteUint32Le(offset, v uint32) bool

	// WriteUint64Le writes a little-endian uint64 at the offset or returns false if out of range.
	WriteUint64Le(offset uint32, v uint64) bool

	// CopyInto copies b to the offset, or fails if any byte falls outside the current size.
	CopyInto(offset uint64, b []byte) error
}

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 {
	return uint64(uint32(input))
}

// DecodeI32 decodes the input as a ValueTypeI32.
func DecodeI32(input uint64) int32 {
	return int32(input)
}

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 {
	return uint64(input)
}

// EncodeF32 encodes the input as a ValueTypeF32.
// See DecodeF32
func EncodeF32(input float32) uint64 {
	return uint64(math.Float32bits(input))
}

// DecodeF32 decodes the input as a ValueTypeF32.
// See EncodeF32
func DecodeF32(input uint64) float32 {
	return math.Float32frombits(uint32(input))
}

// EncodeF64 encodes the input as a ValueTypeF64.
// See DecodeF64
func EncodeF64(input float64) uint64 {
	return math.Float64bits(input)
}

// DecodeF64 decodes the input as a ValueTypeF64.
// See EncodeF64
func DecodeF64(input uint64) float64 {
	return math.Float64frombits(input)
}

// EncodeV128_I32x4 encodes four lanes as a ValueTypeV128.
func EncodeV128_I32x4(ints []int32) (low uint64, hi uint64) {
	_ = ints[3] // bounds check hint to compiler; see golang.org/issue/14808
	low = uint64(uint32(ints[0])) | uint64(uint32(ints[1]))<<32
	hi = uint64(uint32(ints[2])) | uint64(uint32(ints[3]))<<32
	return
}

// DecodeV128_I32x4 decodes a ValueTypeV128 into four lanes.
func DecodeV128_I32x4(low uint64, hi uint64) []int32 {
	return []int32{int32(low), int32(low >> 32), int32(hi), int32(hi >> 32)}
}

// EncodeV128_I64x2 encodes two lanes as a ValueTypeV128.
func EncodeV128_I64x2(ints []int64) (low uint64, hi uint64) {
	_ = ints[1] // bounds check hint to compiler; see golang.org/issue/14808
	return uint64(ints[0]), uint64(ints[1])
}

// DecodeV128_I64x2 decodes a ValueTypeV128 into two lanes.
func DecodeV128_I64x2(low uint64, hi uint64) []int64 {
	return []int64{int64(low), int64(hi)}
}
