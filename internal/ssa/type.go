package ssa

import "fmt"

// Type is the type of a Value.
type Type byte

const (
	// TypeInvalid is the type of ValueInvalid and of instructions without result.
	TypeInvalid Type = iota

	// TypeI1 is the result of comparisons. It is only consumed by Brif, Select and Uextend.
	TypeI1

	// TypeI32 represents an integer type with 32 bits.
	TypeI32

	// TypeI64 represents an integer type with 64 bits.
	TypeI64

	// TypeF32 represents 32-bit floats in the IEEE 754.
	TypeF32

	// TypeF64 represents 64-bit floats in the IEEE 754.
	TypeF64

	// TypeV128 represents 128-bit SIMD vectors. This is the canonical vector type, and the only one
	// allowed to cross block, call and return boundaries.
	TypeV128

	// TypeI64x2 is a 128-bit vector of two 64-bit lanes, produced by vector constants. It must be
	// bitcast to TypeV128 before it leaves the instruction sequence that produced it.
	TypeI64x2

	// TypePtr is an untyped 64-bit address.
	TypePtr
)

// String implements fmt.Stringer.
func (t Type) String() (ret string) {
	switch t {
	case TypeInvalid:
		return "invalid"
	case TypeI1:
		return "i1"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeV128:
		return "v128"
	case TypeI64x2:
		return "i64x2"
	case TypePtr:
		return "ptr"
	default:
		panic(int(t))
	}
}

// IsInt returns true if the type is an integer type.
func (t Type) IsInt() bool {
	return t == TypeI1 || t == TypeI32 || t == TypeI64
}

// IsFloat returns true if the type is a floating point type.
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// IsVector returns true if the type is one of the 128-bit vector types.
func (t Type) IsVector() bool {
	return t == TypeV128 || t == TypeI64x2
}

// Bits returns the number of bits required to represent the type.
func (t Type) Bits() byte {
	switch t {
	case TypeI1:
		return 1
	case TypeI32, TypeF32:
		return 32
	case TypeI64, TypeF64, TypePtr:
		return 64
	case TypeV128, TypeI64x2:
		return 128
	default:
		panic(fmt.Sprintf("BUG: invalid type %d", t))
	}
}

// Size returns the number of bytes required to store the type in memory.
func (t Type) Size() byte {
	if t == TypeI1 {
		return 1
	}
	return t.Bits() / 8
}

func (t Type) invalid() bool {
	return t == TypeInvalid
}
