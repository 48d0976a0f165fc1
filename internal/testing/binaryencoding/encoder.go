// Package binaryencoding encodes modules in the WebAssembly 1.0 (20191205) Binary Format, so tests
// can build inputs for the decoder, the runtime and the CLI from a wasm.Module literal.
package binaryencoding

import (
	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6D}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// EncodeModule encodes m in the WebAssembly 1.0 (20191205) Binary Format.
// Note: If saving to a file, the conventional extension is wasm
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(magic, version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeTypeSection(m.TypeSection)...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeImportSection(m.ImportSection)...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, EncodeFunctionSection(m.FunctionSection)...)
	}
	if len(m.TableSection) > 0 {
		bytes = append(bytes, encodeTableSection(m.TableSection)...)
	}
	if len(m.MemorySection) > 0 {
		bytes = append(bytes, encodeMemorySection(m.MemorySection)...)
	}
	if len(m.GlobalSection) > 0 {
		bytes = append(bytes, encodeGlobalSection(m.GlobalSection)...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeExportSection(m.ExportSection)...)
	}
	if m.StartSection != nil {
		bytes = append(bytes, EncodeStartSection(*m.StartSection)...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeCodeSection(m.CodeSection)...)
	}
	if len(m.DataSection) > 0 {
		bytes = append(bytes, encodeDataSection(m.DataSection)...)
	}
	if m.NameSection != nil {
		nameSection := append(encodeSizePrefixed([]byte("name")), EncodeNameSectionData(m.NameSection)...)
		bytes = append(bytes, encodeSection(wasm.SectionIDCustom, nameSection)...)
	}
	return
}

// encodeSection encodes the sectionID, the size of its contents in bytes, followed by the contents.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func encodeSection(sectionID wasm.SectionID, contents []byte) []byte {
	return append([]byte{sectionID}, encodeSizePrefixed(contents)...)
}

// encodeVector size prefixes the concatenation of each element's encoding.
func encodeVector[T any](elements []T, encode func(T) []byte) []byte {
	contents := leb128.EncodeUint32(uint32(len(elements)))
	for _, e := range elements {
		contents = append(contents, encode(e)...)
	}
	return contents
}

// encodeTypeSection encodes a wasm.SectionIDType for the given imports in WebAssembly 1.0 (20191205) Binary
// Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#type-section%E2%91%A0
func encodeTypeSection(types []*wasm.FunctionType) []byte {
	return encodeSection(wasm.SectionIDType, encodeVector(types, EncodeFunctionType))
}

// encodeImportSection encodes a wasm.SectionIDImport for the given imports in WebAssembly 1.0 (20191205) Binary
// Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#import-section%E2%91%A0
func encodeImportSection(imports []*wasm.Import) []byte {
	return encodeSection(wasm.SectionIDImport, encodeVector(imports, encodeImport))
}

// EncodeFunctionSection encodes a wasm.SectionIDFunction for the type indices associated with module-defined
// functions in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-section%E2%91%A0
func EncodeFunctionSection(typeIndices []wasm.Index) []byte {
	return encodeSection(wasm.SectionIDFunction, encodeVector(typeIndices, leb128.EncodeUint32))
}

// encodeTableSection encodes a wasm.SectionIDTable for the module-defined function in WebAssembly 1.0
// (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-section%E2%91%A0
func encodeTableSection(tables []*wasm.TableType) []byte {
	return encodeSection(wasm.SectionIDTable, encodeVector(tables, EncodeTable))
}

// encodeMemorySection encodes a wasm.SectionIDMemory for the module-defined function in WebAssembly 1.0
// (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-section%E2%91%A0
func encodeMemorySection(memories []*wasm.MemoryType) []byte {
	return encodeSection(wasm.SectionIDMemory, encodeVector(memories, EncodeMemory))
}

// encodeGlobalSection encodes a wasm.SectionIDGlobal for the given globals in WebAssembly 1.0 (20191205) Binary
// Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-section%E2%91%A0
func encodeGlobalSection(globals []*wasm.Global) []byte {
	return encodeSection(wasm.SectionIDGlobal, encodeVector(globals, encodeGlobal))
}

// encodeExportSection encodes a wasm.SectionIDExport for the given exports in WebAssembly 1.0 (20191205) Binary
// Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#export-section%E2%91%A0
func encodeExportSection(exports []*wasm.Export) []byte {
	return encodeSection(wasm.SectionIDExport, encodeVector(exports, encodeExport))
}

// EncodeStartSection encodes a wasm.SectionIDStart for the given function index in WebAssembly 1.0 (20191205)
// Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#start-section%E2%91%A0
func EncodeStartSection(funcidx wasm.Index) []byte {
	return encodeSection(wasm.SectionIDStart, leb128.EncodeUint32(funcidx))
}

// encodeCodeSection encodes a wasm.SectionIDCode for the module-defined function in WebAssembly 1.0 (20191205)
// Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
func encodeCodeSection(code []*wasm.Code) []byte {
	return encodeSection(wasm.SectionIDCode, encodeVector(code, encodeCode))
}

// encodeDataSection encodes a wasm.SectionIDData for the data segments in WebAssembly 1.0 (20191205) Binary
// Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#data-section%E2%91%A0
func encodeDataSection(segments []*wasm.DataSegment) []byte {
	return encodeSection(wasm.SectionIDData, encodeVector(segments, encodeDataSegment))
}

func encodeImport(i *wasm.Import) []byte {
	data := encodeSizePrefixed([]byte(i.Module))
	data = append(data, encodeSizePrefixed([]byte(i.Name))...)
	data = append(data, i.Type)
	switch i.Type {
	case wasm.ExternTypeFunc:
		data = append(data, leb128.EncodeUint32(i.DescFunc)...)
	case wasm.ExternTypeTable:
		data = append(data, EncodeTable(i.DescTable)...)
	case wasm.ExternTypeMemory:
		data = append(data, EncodeMemory(i.DescMem)...)
	case wasm.ExternTypeGlobal:
		data = append(data, encodeGlobalType(i.DescGlobal)...)
	default:
		panic("BUG: invalid extern type " + wasm.ExternTypeName(i.Type))
	}
	return data
}

func encodeExport(e *wasm.Export) []byte {
	data := encodeSizePrefixed([]byte(e.Name))
	data = append(data, e.Type)
	return append(data, leb128.EncodeUint32(e.Index)...)
}

func encodeGlobal(g *wasm.Global) []byte {
	return append(encodeGlobalType(g.Type), encodeConstantExpression(g.Init)...)
}

func encodeGlobalType(gt *wasm.GlobalType) []byte {
	mutable := byte(0)
	if gt.Mutable {
		mutable = 1
	}
	return []byte{gt.ValType, mutable}
}

func encodeConstantExpression(expr *wasm.ConstantExpression) (ret []byte) {
	ret = append(ret, expr.Opcode)
	ret = append(ret, expr.Data...)
	ret = append(ret, wasm.OpcodeEnd)
	return
}

func encodeDataSegment(d *wasm.DataSegment) (ret []byte) {
	ret = append(ret, leb128.EncodeUint32(d.MemoryIndex)...)
	ret = append(ret, encodeConstantExpression(d.OffsetExpression)...)
	ret = append(ret, leb128.EncodeUint32(uint32(len(d.Init)))...)
	ret = append(ret, d.Init...)
	return
}
