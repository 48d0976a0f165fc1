package binary

import (
	"bytes"
	"fmt"

	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// decodeLimitsType returns the `limitsType` (min, max) decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func decodeLimitsType(r *bytes.Reader) (*wasm.LimitsType, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}

	ret := &wasm.LimitsType{}
	switch flag {
	case 0x00:
		if ret.Min, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read min of limit: %v", err)
		}
	case 0x01:
		if ret.Min, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read min of limit: %v", err)
		}
		var max uint32
		if max, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read max of limit: %v", err)
		}
		ret.Max = &max
	default:
		return nil, fmt.Errorf("%v for limits: %#x not in (0x00, 0x01)", ErrInvalidByte, flag)
	}
	return ret, nil
}

// decodeMemoryType returns the wasm.MemoryType decoded with the WebAssembly 1.0 (20191205) Binary Format.
// Limits are checked against the runtime's page limit by wasm.Module.Validate.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func decodeMemoryType(r *bytes.Reader) (*wasm.MemoryType, error) {
	return decodeLimitsType(r)
}

// decodeTableType returns the wasm.TableType decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func decodeTableType(r *bytes.Reader) (*wasm.TableType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}

	if b != wasm.ValueTypeAnyfunc {
		return nil, fmt.Errorf("%w: invalid element type %#x != anyfunc(%#x)", ErrInvalidByte, b, wasm.ValueTypeAnyfunc)
	}

	limits, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %v", err)
	}
	return &wasm.TableType{ElemType: b, Limit: *limits}, nil
}
