package wasm

import (
	"fmt"

	"github.com/nianjia-runtime/nrt/internal/abi"
)

// MaximumTableSize caps the declared size of tables, whose elements are allocated on instantiation.
const MaximumTableSize = uint32(1 << 27)

// Validate reports the first malformed module-level declaration. The returned error wraps
// ErrInvalidModule. memoryLimitPages caps both the declared and the implicit maximum of memories.
//
// Function bodies are not type-checked here: the compiler rejects unsupported instructions and
// malformed operand stacks while lowering.
func (m *Module) Validate(memoryLimitPages uint32) error {
	if err := m.validate(memoryLimitPages); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModule, err)
	}
	return nil
}

func (m *Module) validate(memoryLimitPages uint32) error {
	for i, t := range m.TypeSection {
		if err := validateFunctionType(t); err != nil {
			return fmt.Errorf("type[%d]: %v", i, err)
		}
	}

	for i, imp := range m.ImportSection {
		if err := m.validateImport(imp, memoryLimitPages); err != nil {
			return fmt.Errorf("import[%d] %s.%s: %v", i, imp.Module, imp.Name, err)
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	imported := m.ImportCount(ExternTypeFunc)
	for i, typeIdx := range m.FunctionSection {
		funcIdx := imported + Index(i)
		if typeIdx >= Index(len(m.TypeSection)) {
			return fmt.Errorf("function[%d]: type index %d out of range", funcIdx, typeIdx)
		}
		code := m.CodeSection[i]
		for j, lt := range code.LocalTypes {
			if !IsValueType(lt) {
				return fmt.Errorf("function[%d]: local[%d] has invalid type %#x", funcIdx, j, lt)
			}
		}
		if len(code.Body) == 0 || code.Body[len(code.Body)-1] != OpcodeEnd {
			return fmt.Errorf("function[%d]: body must end with %s", funcIdx, InstructionName(OpcodeEnd))
		}
	}

	if n := m.MemoryCount(); n > 1 {
		return fmt.Errorf("at most one memory is supported, but %d declared", n)
	}
	for i, mem := range m.MemorySection {
		if err := validateLimits(mem, memoryLimitPages); err != nil {
			return fmt.Errorf("memory[%d]: %v", i, err)
		}
	}

	// Tables and globals live in fixed-size runtime data: one record per table, one slot per global.
	if n := m.TableCount(); n > abi.MaxTables {
		return fmt.Errorf("%d tables exceed the limit of %d", n, abi.MaxTables)
	}
	if n := m.GlobalCount(); n > abi.MaxGlobals {
		return fmt.Errorf("%d globals exceed the limit of %d", n, abi.MaxGlobals)
	}

	for i, tbl := range m.TableSection {
		if err := validateTable(tbl); err != nil {
			return fmt.Errorf("table[%d]: %v", i, err)
		}
	}

	for i, g := range m.GlobalSection {
		globalIdx := m.ImportCount(ExternTypeGlobal) + Index(i)
		if g.Type == nil || !IsValueType(g.Type.ValType) {
			return fmt.Errorf("global[%d]: invalid type", globalIdx)
		}
		if g.Init == nil {
			return fmt.Errorf("global[%d]: missing initializer", globalIdx)
		}
		t, err := g.Init.ResultType(m)
		if err != nil {
			return fmt.Errorf("global[%d]: %v", globalIdx, err)
		}
		if t != g.Type.ValType {
			return fmt.Errorf("global[%d]: initializer type %s != %s", globalIdx, ValueTypeName(t), ValueTypeName(g.Type.ValType))
		}
	}

	seen := make(map[string]struct{}, len(m.ExportSection))
	for _, e := range m.ExportSection {
		if _, ok := seen[e.Name]; ok {
			return fmt.Errorf("duplicate export name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if err := m.validateExport(e); err != nil {
			return fmt.Errorf("export %q: %v", e.Name, err)
		}
	}

	if m.StartSection != nil {
		ft := m.TypeOfFunction(*m.StartSection)
		if ft == nil {
			return fmt.Errorf("start function %d out of range", *m.StartSection)
		}
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return fmt.Errorf("start function %d must have type v_v, but was %s", *m.StartSection, ft)
		}
	}

	for i, d := range m.DataSection {
		if d.MemoryIndex >= m.MemoryCount() {
			return fmt.Errorf("data[%d]: memory index %d out of range", i, d.MemoryIndex)
		}
		if d.OffsetExpression == nil {
			return fmt.Errorf("data[%d]: missing offset expression", i)
		}
		t, err := d.OffsetExpression.ResultType(m)
		if err != nil {
			return fmt.Errorf("data[%d]: %v", i, err)
		}
		if t != ValueTypeI32 {
			return fmt.Errorf("data[%d]: offset must be i32, but was %s", i, ValueTypeName(t))
		}
	}
	return nil
}

func validateFunctionType(t *FunctionType) error {
	for i, p := range t.Params {
		if !IsValueType(p) {
			return fmt.Errorf("param[%d] has invalid type %#x", i, p)
		}
	}
	if len(t.Results) > 1 {
		return fmt.Errorf("multiple results are not supported: %s", t)
	}
	for _, r := range t.Results {
		if !IsValueType(r) {
			return fmt.Errorf("result has invalid type %#x", r)
		}
	}
	return nil
}

func (m *Module) validateImport(imp *Import, memoryLimitPages uint32) error {
	switch imp.Type {
	case ExternTypeFunc:
		if imp.DescFunc >= Index(len(m.TypeSection)) {
			return fmt.Errorf("type index %d out of range", imp.DescFunc)
		}
	case ExternTypeGlobal:
		if imp.DescGlobal == nil || !IsValueType(imp.DescGlobal.ValType) {
			return fmt.Errorf("invalid global type")
		}
	case ExternTypeMemory:
		if imp.DescMem == nil {
			return fmt.Errorf("missing memory type")
		}
		return validateLimits(imp.DescMem, memoryLimitPages)
	case ExternTypeTable:
		if imp.DescTable == nil {
			return fmt.Errorf("missing table type")
		}
		return validateTable(imp.DescTable)
	default:
		return fmt.Errorf("invalid extern type %#x", imp.Type)
	}
	return nil
}

func validateLimits(l *LimitsType, limitPages uint32) error {
	if l.Min > limitPages {
		return fmt.Errorf("min %d pages (%s) outside range of %d pages (%s)",
			l.Min, PagesToUnitOfBytes(l.Min), limitPages, PagesToUnitOfBytes(limitPages))
	}
	if l.Max != nil {
		if *l.Max > limitPages {
			return fmt.Errorf("max %d pages (%s) outside range of %d pages (%s)",
				*l.Max, PagesToUnitOfBytes(*l.Max), limitPages, PagesToUnitOfBytes(limitPages))
		}
		if l.Min > *l.Max {
			return fmt.Errorf("min %d pages (%s) > max %d pages (%s)",
				l.Min, PagesToUnitOfBytes(l.Min), *l.Max, PagesToUnitOfBytes(*l.Max))
		}
	}
	return nil
}

func validateTable(t *TableType) error {
	switch t.ElemType {
	case ValueTypeAnyfunc, ValueTypeAnyref:
	default:
		return fmt.Errorf("invalid element type %#x", t.ElemType)
	}
	if t.Limit.Min > MaximumTableSize {
		return fmt.Errorf("min %d elements exceeds the limit of %d", t.Limit.Min, MaximumTableSize)
	}
	if t.Limit.Max != nil {
		if *t.Limit.Max > MaximumTableSize {
			return fmt.Errorf("max %d elements exceeds the limit of %d", *t.Limit.Max, MaximumTableSize)
		}
		if t.Limit.Min > *t.Limit.Max {
			return fmt.Errorf("min %d > max %d", t.Limit.Min, *t.Limit.Max)
		}
	}
	return nil
}

func (m *Module) validateExport(e *Export) error {
	var count Index
	switch e.Type {
	case ExternTypeFunc:
		count = m.FunctionCount()
	case ExternTypeGlobal:
		count = m.GlobalCount()
	case ExternTypeMemory:
		count = m.MemoryCount()
	case ExternTypeTable:
		count = m.TableCount()
	default:
		return fmt.Errorf("invalid extern type %#x", e.Type)
	}
	if e.Index >= count {
		return fmt.Errorf("%s index %d out of range", ExternTypeName(e.Type), e.Index)
	}
	return nil
}
