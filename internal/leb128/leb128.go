// Package leb128 decodes and encodes the variable-length integers used by
// WebAssembly immediates.
//
// See https://en.wikipedia.org/wiki/LEB128
package leb128

import (
	"errors"
	"fmt"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen33 = maxVarintLen32
	maxVarintLen64 = 10
)

var (
	errOverflow32 = errors.New("overflows a 32-bit integer")
	errOverflow33 = errors.New("overflows a 33-bit integer")
	errOverflow64 = errors.New("overflows a 64-bit integer")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format
func EncodeInt64(value int64) (buf []byte) {
	for {
		b := uint8(value & 0x7f)
		s := uint8(value & 0x40)
		value >>= 7
		if (value != 0 || s != 0) && (value != -1 || s == 0) {
			b |= 0x80
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	return buf
}

// EncodeUint32 encodes the value into a buffer in LEB128 format
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format
func EncodeUint64(value uint64) (buf []byte) {
	for {
		b := uint8(value & 0x7f)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			return buf
		}
	}
}

// DecodeUint32 reads an unsigned 32-bit value from r, returning it with the
// number of bytes read.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	var s uint32
	for i := 0; i < maxVarintLen32; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("read byte: %w", err)
		}
		if b < 0x80 {
			// The last byte of a 5-byte encoding may only use its low 4 bits.
			if i == maxVarintLen32-1 && (b&0xf0) > 0 {
				return 0, 0, errOverflow32
			}
			return ret | uint32(b)<<s, uint64(i) + 1, nil
		}
		ret |= (uint32(b) & 0x7f) << s
		s += 7
	}
	return 0, 0, errOverflow32
}

// LoadUint32 is like DecodeUint32, but reads from the head of buf.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	return DecodeUint32(&sliceReader{buf: buf})
}

// DecodeUint64 reads an unsigned 64-bit value from r.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	var s uint64
	for i := 0; i < maxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("read byte: %w", err)
		}
		if b < 0x80 {
			if i == maxVarintLen64-1 && b > 1 {
				return 0, 0, errOverflow64
			}
			return ret | uint64(b)<<s, uint64(i) + 1, nil
		}
		ret |= (uint64(b) & 0x7f) << s
		s += 7
	}
	return 0, 0, errOverflow64
}

// LoadUint64 is like DecodeUint64, but reads from the head of buf.
func LoadUint64(buf []byte) (ret uint64, bytesRead uint64, err error) {
	return DecodeUint64(&sliceReader{buf: buf})
}

// DecodeInt32 reads a signed 32-bit value from r.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	var shift int
	var b byte
	for shift < 35 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("read byte: %w", err)
		}
		ret |= (int32(b) & 0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			if shift < 32 && (b&0x40) != 0 {
				ret |= ^0 << shift
			}
			// Over-long encodings must sign-extend the unused high bits consistently.
			if bytesRead == maxVarintLen32 {
				unused := b & 0x70
				if (ret < 0 && unused != 0x70) || (ret >= 0 && unused != 0) {
					return 0, 0, errOverflow32
				}
			}
			return ret, bytesRead, nil
		}
	}
	return 0, 0, errOverflow32
}

// LoadInt32 is like DecodeInt32, but reads from the head of buf.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	return DecodeInt32(&sliceReader{buf: buf})
}

// DecodeInt33AsInt64 reads the signed 33-bit value used by block types.
//
// See https://webassembly.github.io/spec/core/binary/instructions.html#control-instructions
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("read byte: %w", err)
		}
		ret |= (int64(b) & 0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			break
		}
		if bytesRead == maxVarintLen33 {
			return 0, 0, errOverflow33
		}
	}
	if shift < 33 && (b&0x40) != 0 {
		ret |= ^0 << shift
	}
	if ret < -(1<<32) || ret >= 1<<32 {
		return 0, 0, errOverflow33
	}
	return ret, bytesRead, nil
}

// DecodeInt64 reads a signed 64-bit value from r.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b byte
	for shift < 70 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("read byte: %w", err)
		}
		ret |= (int64(b) & 0x7f) << shift
		shift += 7
		bytesRead++
		if b&0x80 == 0 {
			if shift < 64 && (b&0x40) != 0 {
				ret |= ^0 << shift
			}
			if bytesRead == maxVarintLen64 {
				if (ret < 0 && b != 0x7f) || (ret >= 0 && b != 0) {
					return 0, 0, errOverflow64
				}
			}
			return ret, bytesRead, nil
		}
	}
	return 0, 0, errOverflow64
}

// LoadInt64 is like DecodeInt64, but reads from the head of buf.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return DecodeInt64(&sliceReader{buf: buf})
}

type sliceReader struct {
	buf []byte
	pos int
}

func (r *sliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}
