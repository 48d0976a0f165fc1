package wasm

// ValueType is the binary encoding of a type such as i32. ValueTypeNone is the empty block type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	ValueTypeNone    ValueType = 0x40
	ValueTypeI32     ValueType = 0x7f
	ValueTypeI64     ValueType = 0x7e
	ValueTypeF32     ValueType = 0x7d
	ValueTypeF64     ValueType = 0x7c
	ValueTypeV128    ValueType = 0x7b
	ValueTypeAnyfunc ValueType = 0x70
	ValueTypeAnyref  ValueType = 0x6f
	ValueTypeNullref ValueType = 0x6e
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeNone:
		return "none"
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
	case ValueTypeAnyfunc:
		return "anyfunc"
	case ValueTypeAnyref:
		return "anyref"
	case ValueTypeNullref:
		return "nullref"
	}
	return "unknown"
}

// ValueTypeSize returns the byte width of values of the type. References are pointer sized.
func ValueTypeSize(t ValueType) uint32 {
	switch t {
	case ValueTypeI32, ValueTypeF32:
		return 4
	case ValueTypeI64, ValueTypeF64, ValueTypeAnyfunc, ValueTypeAnyref, ValueTypeNullref:
		return 8
	case ValueTypeV128:
		return 16
	}
	return 0
}

// IsValueType returns true if t may be the type of a local, global, parameter or result.
func IsValueType(t ValueType) bool {
	return t != ValueTypeNone && ValueTypeSize(t) != 0
}
