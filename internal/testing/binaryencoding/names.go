package binaryencoding

import (
	"sort"

	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

const (
	// subsectionIDModuleName contains only the module name.
	subsectionIDModuleName = uint8(0)
	// subsectionIDFunctionNames is a map of indices to function names, in ascending order by function index
	subsectionIDFunctionNames = uint8(1)
)

// EncodeNameSectionData serializes the data for the "name" key in wasm.SectionIDCustom according to the
// standard:
//
// Note: The result can be nil because this does not encode empty subsections
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namesec
func EncodeNameSectionData(n *wasm.NameSection) (data []byte) {
	if n.ModuleName != "" {
		data = append(data, encodeNameSubsection(subsectionIDModuleName, encodeSizePrefixed([]byte(n.ModuleName)))...)
	}
	if len(n.FunctionNames) > 0 {
		data = append(data, encodeNameSubsection(subsectionIDFunctionNames, encodeFunctionNameData(n.FunctionNames))...)
	}
	return
}

// encodeFunctionNameData encodes the function name map in ascending index order.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-funcnamesec
func encodeFunctionNameData(names map[wasm.Index]string) []byte {
	indices := make([]wasm.Index, 0, len(names))
	for idx := range names {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	data := leb128.EncodeUint32(uint32(len(indices)))
	for _, idx := range indices {
		data = append(data, leb128.EncodeUint32(idx)...)
		data = append(data, encodeSizePrefixed([]byte(names[idx]))...)
	}
	return data
}

// encodeNameSubsection returns a buffer encoding the given subsection
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#subsections%E2%91%A0
func encodeNameSubsection(subsectionID uint8, content []byte) []byte {
	return append([]byte{subsectionID}, encodeSizePrefixed(content)...)
}

// encodeSizePrefixed encodes the data prefixed by their size.
func encodeSizePrefixed(data []byte) []byte {
	size := leb128.EncodeUint32(uint32(len(data)))
	return append(size, data...)
}
