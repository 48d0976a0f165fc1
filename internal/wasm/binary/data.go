package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

func decodeDataSegment(r *bytes.Reader) (*wasm.DataSegment, error) {
	d, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read memory index: %v", err)
	}

	if d != 0 {
		return nil, fmt.Errorf("invalid memory index: %d", d)
	}

	expr, err := decodeConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read offset expression: %v", err)
	}

	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of vector: %v", err)
	}
	if uint64(vs) > uint64(r.Len()) {
		return nil, fmt.Errorf("init size %d exceeds the remaining %d bytes", vs, r.Len())
	}

	b := make([]byte, vs)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read bytes for init: %v", err)
	}

	return &wasm.DataSegment{
		MemoryIndex:      d,
		OffsetExpression: expr,
		Init:             b,
	}, nil
}
