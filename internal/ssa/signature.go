package ssa

import (
	"fmt"
	"strings"
)

// CallConv is the calling convention of a function.
type CallConv byte

const (
	// CallConvFast is used between compiled functions. Every compiled function takes the context
	// pointer as its first parameter.
	CallConvFast CallConv = iota
	// CallConvC is used to call runtime intrinsics implemented by the host.
	CallConvC
)

// String implements fmt.Stringer.
func (c CallConv) String() string {
	switch c {
	case CallConvFast:
		return "fast"
	case CallConvC:
		return "c"
	}
	return fmt.Sprintf("callconv(%d)", byte(c))
}

// SignatureID is a unique identifier used to lookup a Signature in a Module.
type SignatureID int

// String implements fmt.Stringer.
func (s SignatureID) String() string {
	return fmt.Sprintf("sig%d", s)
}

// Signature is a function prototype. At most one result is allowed.
type Signature struct {
	// ID is unique within the Module that declared it.
	ID       SignatureID
	Params   []Type
	Results  []Type
	CallConv CallConv
}

// String implements fmt.Stringer.
func (s *Signature) String() string {
	var str strings.Builder
	str.WriteString(s.ID.String())
	str.WriteString(": ")
	if len(s.Params) > 0 {
		for _, typ := range s.Params {
			str.WriteString(typ.String())
		}
	} else {
		str.WriteByte('v')
	}
	str.WriteByte('_')
	if len(s.Results) > 0 {
		for _, typ := range s.Results {
			str.WriteString(typ.String())
		}
	} else {
		str.WriteByte('v')
	}
	if s.CallConv != CallConvFast {
		str.WriteString(" ")
		str.WriteString(s.CallConv.String())
	}
	return str.String()
}

// Result returns the single result type, or the invalid type when there is none.
func (s *Signature) Result() Type {
	if len(s.Results) == 0 {
		return TypeInvalid
	}
	return s.Results[0]
}

func (s *Signature) equals(o *Signature) bool {
	if s.CallConv != o.CallConv || len(s.Params) != len(o.Params) || len(s.Results) != len(o.Results) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range s.Results {
		if s.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}
