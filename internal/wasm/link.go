package wasm

import (
	"context"
	"errors"
	"fmt"
)

// ImportType is what a module expects an import to be.
type ImportType struct {
	Kind   ExternType
	Func   *FunctionType
	Global *GlobalType
	Memory *MemoryType
	Table  *TableType
}

// String implements fmt.Stringer.
func (t *ImportType) String() string {
	switch t.Kind {
	case ExternTypeFunc:
		return "func " + t.Func.String()
	case ExternTypeGlobal:
		if t.Global.Mutable {
			return "global mut " + ValueTypeName(t.Global.ValType)
		}
		return "global " + ValueTypeName(t.Global.ValType)
	case ExternTypeMemory:
		return "memory"
	case ExternTypeTable:
		return "table"
	}
	return ExternTypeName(t.Kind)
}

// HostFunction is a function implemented by the host. Parameters and results are raw bits.
type HostFunction struct {
	Type *FunctionType
	Call func(ctx context.Context, params []uint64) ([]uint64, error)
}

// GlobalInstance is the value of a global supplied by the host.
type GlobalInstance struct {
	Type      *GlobalType
	Val, ValHi uint64
}

// Symbol is a definition a Resolver returns for an import. Exactly one field matching the requested
// kind is set.
type Symbol struct {
	Func   *HostFunction
	Global *GlobalInstance
	Memory *MemoryInstance
	Table  *TableInstance
}

// Resolver finds the definition of an import.
type Resolver interface {
	// Resolve returns the definition of moduleName.name, or false if there is none. The returned
	// symbol is checked against expected by the caller.
	Resolve(moduleName, name string, expected *ImportType) (*Symbol, bool)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(moduleName, name string, expected *ImportType) (*Symbol, bool)

// Resolve implements Resolver.Resolve.
func (f ResolverFunc) Resolve(moduleName, name string, expected *ImportType) (*Symbol, bool) {
	return f(moduleName, name, expected)
}

// LinkedImports are the resolved imports, each indexed by the import index of its kind.
type LinkedImports struct {
	Functions []*HostFunction
	Globals   []*GlobalInstance
	Memories  []*MemoryInstance
	Tables    []*TableInstance
}

// Link resolves every import of the module. It fails, listing every problem, if any import is
// unresolved or resolves to a definition of the wrong type.
func Link(m *Module, r Resolver) (*LinkedImports, error) {
	ret := &LinkedImports{}
	var errs []error
	for _, imp := range m.ImportSection {
		expected := m.importType(imp)
		sym, ok := r.Resolve(imp.Module, imp.Name, expected)
		if !ok || sym == nil {
			errs = append(errs, fmt.Errorf("%s.%s: unresolved %s", imp.Module, imp.Name, expected))
			continue
		}
		if err := checkSymbol(expected, sym); err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %v", imp.Module, imp.Name, err))
			continue
		}
		switch imp.Type {
		case ExternTypeFunc:
			ret.Functions = append(ret.Functions, sym.Func)
		case ExternTypeGlobal:
			ret.Globals = append(ret.Globals, sym.Global)
		case ExternTypeMemory:
			ret.Memories = append(ret.Memories, sym.Memory)
		case ExternTypeTable:
			ret.Tables = append(ret.Tables, sym.Table)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrLink, errors.Join(errs...))
	}
	return ret, nil
}

func (m *Module) importType(imp *Import) *ImportType {
	t := &ImportType{Kind: imp.Type, Global: imp.DescGlobal, Memory: imp.DescMem, Table: imp.DescTable}
	if imp.Type == ExternTypeFunc {
		t.Func = m.TypeSection[imp.DescFunc]
	}
	return t
}

func checkSymbol(expected *ImportType, sym *Symbol) error {
	switch expected.Kind {
	case ExternTypeFunc:
		if sym.Func == nil {
			return fmt.Errorf("expected %s", expected)
		}
		if !sym.Func.Type.EqualsSignature(expected.Func.Params, expected.Func.Results) {
			return fmt.Errorf("signature mismatch: %s != %s", expected.Func, sym.Func.Type)
		}
	case ExternTypeGlobal:
		if sym.Global == nil {
			return fmt.Errorf("expected %s", expected)
		}
		if *sym.Global.Type != *expected.Global {
			return fmt.Errorf("type mismatch: %s != %s", expected, (&ImportType{Kind: ExternTypeGlobal, Global: sym.Global.Type}))
		}
	case ExternTypeMemory:
		if sym.Memory == nil {
			return fmt.Errorf("expected %s", expected)
		}
		if sym.Memory.Pages() < expected.Memory.Min {
			return fmt.Errorf("memory has %d pages, but at least %d are required", sym.Memory.Pages(), expected.Memory.Min)
		}
		if expected.Memory.Max != nil && sym.Memory.Max > *expected.Memory.Max {
			return fmt.Errorf("memory max %d pages exceeds the declared max %d", sym.Memory.Max, *expected.Memory.Max)
		}
	case ExternTypeTable:
		if sym.Table == nil {
			return fmt.Errorf("expected %s", expected)
		}
		if sym.Table.Type.ElemType != expected.Table.ElemType {
			return fmt.Errorf("element type mismatch: %s != %s",
				ValueTypeName(expected.Table.ElemType), ValueTypeName(sym.Table.Type.ElemType))
		}
		if uint32(len(sym.Table.Elements)) < expected.Table.Limit.Min {
			return fmt.Errorf("table has %d elements, but at least %d are required", len(sym.Table.Elements), expected.Table.Limit.Min)
		}
	}
	return nil
}
