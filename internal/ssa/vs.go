package ssa

import (
	"fmt"
	"math"
)

// Value represents an SSA value with a type information.
//
// Higher 32-bit is used to store Type for this value.
type Value uint64

// ValueID is the lower 32bit of Value, which is the pure identifier of Value without type info.
type ValueID uint32

const (
	valueIDInvalid ValueID = math.MaxUint32
	ValueInvalid   Value   = Value(valueIDInvalid)
)

// Format creates a debug string for this Value using the data stored in Builder.
func (v Value) Format(b Builder) string {
	if annotation, ok := b.(*builder).fn.valueAnnotations[v.ID()]; ok {
		return annotation
	}
	return v.String()
}

func (v Value) formatWithType(b Builder) string {
	return v.Format(b) + ":" + v.Type().String()
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if !v.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("v%d", v.ID())
}

// Valid returns true if this value is valid.
func (v Value) Valid() bool {
	return v.ID() != valueIDInvalid
}

// Type returns the Type of this value.
func (v Value) Type() Type {
	return Type(v >> 32)
}

// ID returns the valueID of this value.
func (v Value) ID() ValueID {
	return ValueID(v)
}

// setType sets a type to this Value and returns the updated Value.
func (v Value) setType(typ Type) Value {
	return v | Value(typ)<<32
}
