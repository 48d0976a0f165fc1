package binaryencoding

import (
	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// EncodeFunctionType returns the wasm.FunctionType encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// Note: Function types are encoded by the byte 0x60 followed by the respective vectors of parameter and result types.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A4
func EncodeFunctionType(t *wasm.FunctionType) []byte {
	data := append([]byte{0x60}, EncodeValTypes(t.Params)...)
	return append(data, EncodeValTypes(t.Results)...)
}

// EncodeValTypes returns the size prefixed value types.
func EncodeValTypes(vt []wasm.ValueType) []byte {
	count := leb128.EncodeUint32(uint32(len(vt)))
	return append(count, vt...)
}

// EncodeLimitsType returns the `limitsType` (min, max) encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func EncodeLimitsType(min uint32, max *uint32) []byte {
	if max == nil {
		return append(leb128.EncodeUint32(0x00), leb128.EncodeUint32(min)...)
	}
	return append(leb128.EncodeUint32(0x01), append(leb128.EncodeUint32(min), leb128.EncodeUint32(*max)...)...)
}

// EncodeMemory returns the wasm.MemoryType encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func EncodeMemory(i *wasm.MemoryType) []byte {
	return EncodeLimitsType(i.Min, i.Max)
}

// EncodeTable returns the wasm.TableType encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func EncodeTable(i *wasm.TableType) []byte {
	return append([]byte{i.ElemType}, EncodeLimitsType(i.Limit.Min, i.Limit.Max)...)
}
