package binaryencoding

import (
	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// encodeCode returns the wasm.Code encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func encodeCode(c *wasm.Code) []byte {
	// local blocks compress locals while preserving index order by grouping locals of the same type.
	// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
	var localBlockCount uint32
	var localBlocks []byte
	for i := 0; i < len(c.LocalTypes); {
		vt := c.LocalTypes[i]
		run := 1
		for i+run < len(c.LocalTypes) && c.LocalTypes[i+run] == vt {
			run++
		}
		localBlocks = append(localBlocks, leb128.EncodeUint32(uint32(run))...)
		localBlocks = append(localBlocks, vt)
		localBlockCount++
		i += run
	}
	code := append(leb128.EncodeUint32(localBlockCount), localBlocks...)
	code = append(code, c.Body...)
	return encodeSizePrefixed(code)
}
