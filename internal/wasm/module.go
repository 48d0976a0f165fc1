package wasm

import (
	"fmt"
	"strings"
)

// Module is a WebAssembly module that has already been decoded. Compilation and instantiation
// only read it.
//
// Functions, globals, memories and tables each live in a combined index space: imports come first,
// in the order they appear in ImportSection, followed by the module-defined entries. IsImport reports
// which side of the split an index falls on.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A8
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#type-section%E2%91%A0
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals required for instantiation.
	//
	// Note: Imported entries are prefixed to the index space of their kind.
	//
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#import-section%E2%91%A0
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index namespace begins with imported functions and ends with those defined in this module.
	// For example, if there are two imported functions and one defined in this module, the function Index 3 is defined
	// in this module at FunctionSection[0].
	FunctionSection []Index

	TableSection []*TableType

	// MemorySection contains each memory defined in this module. At most one memory, imported or defined,
	// is supported.
	MemorySection []*MemoryType

	// GlobalSection contains each global defined in this module.
	GlobalSection []*Global

	// ExportSection contains each export defined in this module, in the order they were declared.
	ExportSection []*Export

	// StartSection is the index of a function to call before returning from instantiation.
	StartSection *Index

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	CodeSection []*Code

	// DataSection contains the segments copied into memory at instantiation.
	DataSection []*DataSegment

	// NameSection is optional debug information.
	NameSection *NameSection

	importCounts    [externTypeCount]Index
	importCountDone bool
}

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#indices%E2%91%A4
type Index = uint32

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	//
	// Note: At most one result is supported.
	Results []ValueType

	key string
}

// String returns a stable key such as "i32i64_f32" or "v_v".
func (t *FunctionType) String() string {
	if t.key != "" {
		return t.key
	}
	var b strings.Builder
	if len(t.Params) == 0 {
		b.WriteString("v")
	}
	for _, p := range t.Params {
		b.WriteString(ValueTypeName(p))
	}
	b.WriteByte('_')
	if len(t.Results) == 0 {
		b.WriteString("v")
	}
	for _, r := range t.Results {
		b.WriteString(ValueTypeName(r))
	}
	t.key = b.String()
	return t.key
}

// EqualsSignature returns true if the function type has the same parameters and results.
func (t *FunctionType) EqualsSignature(params, results []ValueType) bool {
	return string(t.Params) == string(params) && string(t.Results) == string(results)
}

// Result returns the single result type, or ValueTypeNone.
func (t *FunctionType) Result() ValueType {
	if len(t.Results) == 0 {
		return ValueTypeNone
	}
	return t.Results[0]
}

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03

	externTypeCount = 4
)

// ExternTypeName returns the name of the WebAssembly 1.0 (20191205) Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", et)
}

// Import is the binary representation of an import indicated by Type
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc
	DescFunc Index
	// DescTable is the inlined TableType when Type equals ExternTypeTable
	DescTable *TableType
	// DescMem is the inlined MemoryType when Type equals ExternTypeMemory
	DescMem *MemoryType
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal
	DescGlobal *GlobalType
}

// LimitsType are the page bounds of a memory or the element bounds of a table.
type LimitsType struct {
	Min uint32
	// Max is the possibly unset maximum.
	Max *uint32
}

// MemoryType describes the limits of a linear memory in pages.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-types%E2%91%A0
type MemoryType = LimitsType

// TableType describes a table of references.
type TableType struct {
	ElemType ValueType
	Limit    LimitsType
}

// GlobalType is the type of a global variable.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global is a global defined in this module.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// Export is the binary representation of an export indicated by Type.
type Export struct {
	Type ExternType
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export, in the index namespace of Type.
	Index Index
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order, following the parameters.
	LocalTypes []ValueType
	// Body is a sequence of expressions ending in OpcodeEnd.
	Body []byte
}

// DataSegment is copied into the memory at MemoryIndex during instantiation.
type DataSegment struct {
	MemoryIndex      Index
	OffsetExpression *ConstantExpression
	Init             []byte
}

// NameSection represents the known custom name subsections defined in the WebAssembly Binary Format.
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
}

func (m *Module) countImports() {
	if m.importCountDone {
		return
	}
	for _, imp := range m.ImportSection {
		if imp.Type < externTypeCount {
			m.importCounts[imp.Type]++
		}
	}
	m.importCountDone = true
}

// ImportCount returns the number of imports of the given kind.
func (m *Module) ImportCount(et ExternType) Index {
	m.countImports()
	return m.importCounts[et]
}

// IsImport returns true if index in the combined index space of the given kind refers to an import.
func (m *Module) IsImport(et ExternType, index Index) bool {
	return index < m.ImportCount(et)
}

// FunctionCount is the size of the combined function index space.
func (m *Module) FunctionCount() Index {
	return m.ImportCount(ExternTypeFunc) + Index(len(m.FunctionSection))
}

// GlobalCount is the size of the combined global index space.
func (m *Module) GlobalCount() Index {
	return m.ImportCount(ExternTypeGlobal) + Index(len(m.GlobalSection))
}

// MemoryCount is the size of the combined memory index space.
func (m *Module) MemoryCount() Index {
	return m.ImportCount(ExternTypeMemory) + Index(len(m.MemorySection))
}

// TableCount is the size of the combined table index space.
func (m *Module) TableCount() Index {
	return m.ImportCount(ExternTypeTable) + Index(len(m.TableSection))
}

// importOf returns the nth import of the given kind.
func (m *Module) importOf(et ExternType, n Index) *Import {
	var seen Index
	for _, imp := range m.ImportSection {
		if imp.Type != et {
			continue
		}
		if seen == n {
			return imp
		}
		seen++
	}
	return nil
}

// ImportOf returns the import backing the index, or nil if the index is module-defined.
func (m *Module) ImportOf(et ExternType, index Index) *Import {
	if !m.IsImport(et, index) {
		return nil
	}
	return m.importOf(et, index)
}

// TypeIndexOfFunction returns the index in TypeSection of the function, or false if out of range.
func (m *Module) TypeIndexOfFunction(funcIdx Index) (Index, bool) {
	if imported := m.ImportCount(ExternTypeFunc); funcIdx < imported {
		return m.importOf(ExternTypeFunc, funcIdx).DescFunc, true
	} else if defined := funcIdx - imported; defined < Index(len(m.FunctionSection)) {
		return m.FunctionSection[defined], true
	}
	return 0, false
}

// TypeOfFunction returns the FunctionType of the function at funcIdx, or nil if invalid.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	typeIdx, ok := m.TypeIndexOfFunction(funcIdx)
	if !ok || typeIdx >= Index(len(m.TypeSection)) {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// CodeOfFunction returns the Code of a module-defined function, or nil if it is imported.
func (m *Module) CodeOfFunction(funcIdx Index) *Code {
	imported := m.ImportCount(ExternTypeFunc)
	if funcIdx < imported || funcIdx-imported >= Index(len(m.CodeSection)) {
		return nil
	}
	return m.CodeSection[funcIdx-imported]
}

// TypeOfGlobal returns the GlobalType at globalIdx, or nil if out of range.
func (m *Module) TypeOfGlobal(globalIdx Index) *GlobalType {
	if imported := m.ImportCount(ExternTypeGlobal); globalIdx < imported {
		return m.importOf(ExternTypeGlobal, globalIdx).DescGlobal
	} else if defined := globalIdx - imported; defined < Index(len(m.GlobalSection)) {
		return m.GlobalSection[defined].Type
	}
	return nil
}

// TypeOfMemory returns the MemoryType at memIdx, or nil if out of range.
func (m *Module) TypeOfMemory(memIdx Index) *MemoryType {
	if imported := m.ImportCount(ExternTypeMemory); memIdx < imported {
		return m.importOf(ExternTypeMemory, memIdx).DescMem
	} else if defined := memIdx - imported; defined < Index(len(m.MemorySection)) {
		return m.MemorySection[defined]
	}
	return nil
}

// TypeOfTable returns the TableType at tableIdx, or nil if out of range.
func (m *Module) TypeOfTable(tableIdx Index) *TableType {
	if imported := m.ImportCount(ExternTypeTable); tableIdx < imported {
		return m.importOf(ExternTypeTable, tableIdx).DescTable
	} else if defined := tableIdx - imported; defined < Index(len(m.TableSection)) {
		return m.TableSection[defined]
	}
	return nil
}

// Export returns the export of the given kind and name, or nil.
func (m *Module) Export(et ExternType, name string) *Export {
	for _, e := range m.ExportSection {
		if e.Type == et && e.Name == name {
			return e
		}
	}
	return nil
}

// FunctionName returns the debug name of the function, falling back to its index.
func (m *Module) FunctionName(funcIdx Index) string {
	if m.NameSection != nil {
		if n, ok := m.NameSection.FunctionNames[funcIdx]; ok {
			return n
		}
	}
	for _, e := range m.ExportSection {
		if e.Type == ExternTypeFunc && e.Index == funcIdx {
			return e.Name
		}
	}
	return fmt.Sprintf("$%d", funcIdx)
}
