package frontend

import (
	"fmt"

	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// TypeCatalog maps WebAssembly value types to SSA types. The mapping is total over the value types
// and fixed for the lifetime of the process.
type TypeCatalog struct {
	types map[wasm.ValueType]ssa.Type
}

var defaultTypeCatalog = &TypeCatalog{types: map[wasm.ValueType]ssa.Type{
	wasm.ValueTypeI32:     ssa.TypeI32,
	wasm.ValueTypeI64:     ssa.TypeI64,
	wasm.ValueTypeF32:     ssa.TypeF32,
	wasm.ValueTypeF64:     ssa.TypeF64,
	wasm.ValueTypeV128:    ssa.TypeV128,
	wasm.ValueTypeAnyfunc: ssa.TypePtr,
	wasm.ValueTypeAnyref:  ssa.TypePtr,
	wasm.ValueTypeNullref: ssa.TypePtr,
}}

// DefaultTypeCatalog returns the catalog shared by all compilations.
func DefaultTypeCatalog() *TypeCatalog {
	return defaultTypeCatalog
}

// SSAType returns the SSA type of vt.
func (c *TypeCatalog) SSAType(vt wasm.ValueType) ssa.Type {
	t, ok := c.types[vt]
	if !ok {
		panic(fmt.Sprintf("BUG: no SSA type for %s", wasm.ValueTypeName(vt)))
	}
	return t
}

// SSATypes returns the SSA types of vts.
func (c *TypeCatalog) SSATypes(vts []wasm.ValueType) []ssa.Type {
	ret := make([]ssa.Type, len(vts))
	for i, vt := range vts {
		ret[i] = c.SSAType(vt)
	}
	return ret
}

// Zero inserts the zero constant of the SSA type typ at the current position of b.
func (c *TypeCatalog) Zero(b ssa.Builder, typ ssa.Type) ssa.Value {
	instr := b.AllocateInstruction()
	switch typ {
	case ssa.TypeI1, ssa.TypeI32, ssa.TypeI64:
		return instr.AsIconst(typ, 0).Insert(b).Return()
	case ssa.TypeF32:
		return instr.AsF32const(0).Insert(b).Return()
	case ssa.TypeF64:
		return instr.AsF64const(0).Insert(b).Return()
	case ssa.TypeV128:
		v := instr.AsVconst(0, 0).Insert(b).Return()
		return b.AllocateInstruction().AsBitcast(v, ssa.TypeV128).Insert(b).Return()
	case ssa.TypePtr:
		v := instr.AsIconst64(0).Insert(b).Return()
		return b.AllocateInstruction().AsIntToPtr(v).Insert(b).Return()
	default:
		panic(fmt.Sprintf("BUG: no zero constant for %s", typ))
	}
}

// Signature declares the signature of compiled functions of type ft in m: the context pointer
// followed by the parameters, with the fast calling convention.
func (c *TypeCatalog) Signature(m *ssa.Module, ft *wasm.FunctionType) *ssa.Signature {
	params := make([]ssa.Type, 0, len(ft.Params)+1)
	params = append(params, ssa.TypePtr)
	params = append(params, c.SSATypes(ft.Params)...)
	return m.DeclareSignature(params, c.SSATypes(ft.Results), ssa.CallConvFast)
}
