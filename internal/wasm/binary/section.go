package binary

import (
	"bytes"
	"fmt"

	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// decodeVector reads a vector length and calls decode once per element.
func decodeVector[T any](r *bytes.Reader, what string, decode func(*bytes.Reader) (T, error)) ([]T, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	// Each element is at least one byte, which bounds the allocation by the input.
	if uint64(vs) > uint64(r.Len()) {
		return nil, fmt.Errorf("%d %ss exceed the remaining %d bytes", vs, what, r.Len())
	}

	result := make([]T, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], err = decode(r); err != nil {
			return nil, fmt.Errorf("read %s[%d]: %w", what, i, err)
		}
	}
	return result, nil
}

func decodeTypeSection(r *bytes.Reader) ([]*wasm.FunctionType, error) {
	return decodeVector(r, "type", decodeFunctionType)
}

func decodeImportSection(r *bytes.Reader) ([]*wasm.Import, error) {
	return decodeVector(r, "import", decodeImport)
}

func decodeFunctionSection(r *bytes.Reader) ([]uint32, error) {
	return decodeVector(r, "function", func(r *bytes.Reader) (uint32, error) {
		idx, _, err := leb128.DecodeUint32(r)
		return idx, err
	})
}

func decodeTableSection(r *bytes.Reader) ([]*wasm.TableType, error) {
	return decodeVector(r, "table", decodeTableType)
}

func decodeMemorySection(r *bytes.Reader) ([]*wasm.MemoryType, error) {
	return decodeVector(r, "memory", decodeMemoryType)
}

func decodeGlobalSection(r *bytes.Reader) ([]*wasm.Global, error) {
	return decodeVector(r, "global", decodeGlobal)
}

func decodeExportSection(r *bytes.Reader) ([]*wasm.Export, error) {
	return decodeVector(r, "export", decodeExport)
}

func decodeStartSection(r *bytes.Reader) (*wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get function index: %w", err)
	}
	return &vs, nil
}

// decodeElementSection accepts only an empty element section: tables are never initialized.
func decodeElementSection(r *bytes.Reader) error {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get size of vector: %w", err)
	}
	if vs != 0 {
		return fmt.Errorf("element segments are not supported")
	}
	return nil
}

func decodeCodeSection(r *bytes.Reader) ([]*wasm.Code, error) {
	return decodeVector(r, "code", decodeCode)
}

func decodeDataSection(r *bytes.Reader) ([]*wasm.DataSegment, error) {
	return decodeVector(r, "data", decodeDataSegment)
}
