package binary

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

func decodeValueTypes(r *bytes.Reader, num uint32) ([]wasm.ValueType, error) {
	if num == 0 {
		return nil, nil
	}
	if uint64(num) > uint64(r.Len()) {
		return nil, fmt.Errorf("%d value types exceed the remaining %d bytes", num, r.Len())
	}
	ret := make([]wasm.ValueType, num)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}

	for _, v := range ret {
		if !wasm.IsValueType(v) {
			return nil, fmt.Errorf("invalid value type: %d", v)
		}
	}
	return ret, nil
}

// decodeUTF8 decodes a size prefixed string from the reader, returning it and the count of bytes read.
// contextFormat and contextArgs apply an error format when present
func decodeUTF8(r *bytes.Reader, contextFormat string, contextArgs ...interface{}) (string, uint32, error) {
	size, sizeOfSize, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read %s size: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}
	if uint64(size) > uint64(r.Len()) {
		return "", 0, fmt.Errorf("%s size %d exceeds the remaining %d bytes", fmt.Sprintf(contextFormat, contextArgs...), size, r.Len())
	}

	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", 0, fmt.Errorf("failed to read %s: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}

	if !utf8.Valid(buf) {
		return "", 0, fmt.Errorf("%s is not valid UTF-8", fmt.Sprintf(contextFormat, contextArgs...))
	}

	return string(buf), size + uint32(sizeOfSize), nil
}
