package wasm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nianjia-runtime/nrt/internal/platform"
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = uint32(65536)
	// MemoryLimitPages is maximum number of pages defined (2^16).
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
	MemoryLimitPages = uint32(65536)
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
)

// MemoryInstance is one linear memory. The whole address range up to Max pages, plus one guard page,
// is reserved at creation and never moves: growing only commits more pages in place. Compiled code
// may therefore cache the base address for the lifetime of the instance.
//
// A MemoryInstance is not safe for concurrent use.
type MemoryInstance struct {
	// Buffer is a view of the committed pages. Its length is always a multiple of MemoryPageSize.
	Buffer []byte
	// Min and Max are the page bounds. Max is the declared maximum or the runtime limit.
	Min, Max uint32

	start    uintptr
	reserved uint64
	// records are addresses of runtime data memory records that mirror this memory's base and length.
	records []uintptr
	closed  bool
}

// NewMemoryInstance reserves (max+1) pages of address space and commits min pages. When the type has
// no maximum, limitPages is used instead.
func NewMemoryInstance(mt *MemoryType, limitPages uint32) (*MemoryInstance, error) {
	max := limitPages
	if mt.Max != nil {
		max = *mt.Max
	}
	if mt.Min > max {
		return nil, fmt.Errorf("%w: min %d pages > max %d pages", ErrMemoryReserve, mt.Min, max)
	}

	reserved := MemoryPagesToBytesNum(max + 1)
	start, err := platform.Reserve(reserved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMemoryReserve, PagesToUnitOfBytes(max+1), err)
	}
	m := &MemoryInstance{Min: mt.Min, Max: max, start: start, reserved: reserved}
	if _, err = m.Grow(mt.Min); err != nil {
		_ = platform.Release(start, reserved)
		return nil, err
	}
	return m, nil
}

// Base returns the address of byte zero.
func (m *MemoryInstance) Base() uintptr {
	return m.start
}

// Pages returns the number of committed pages.
func (m *MemoryInstance) Pages() uint32 {
	return uint32(uint64(len(m.Buffer)) >> MemoryPageSizeInBits)
}

// Size returns the committed size in bytes.
func (m *MemoryInstance) Size() uint64 {
	return uint64(len(m.Buffer))
}

// Grow commits delta more pages and returns the previous page count, as memory.grow does.
//
// It fails without side effects if the result would exceed Max pages.
func (m *MemoryInstance) Grow(delta uint32) (previous uint32, err error) {
	if m.closed {
		return 0, ErrClosed
	}
	previous = m.Pages()
	if uint64(previous)+uint64(delta) > uint64(m.Max) {
		return 0, fmt.Errorf("%w: %d + %d > %d", ErrMemoryGrow, previous, delta, m.Max)
	}
	if delta == 0 {
		return previous, nil
	}

	from := m.Size()
	size := MemoryPagesToBytesNum(delta)
	if err = platform.Commit(m.start+uintptr(from), size); err != nil {
		return 0, fmt.Errorf("%w: %d pages at page %d: %v", ErrMemoryCommit, delta, previous, err)
	}
	m.Buffer = platform.Bytes(m.start, from+size)
	m.syncRecords()
	return previous, nil
}

// CopyInto copies b to offset. It fails if the range exceeds the maximum size of the memory, or if
// it reaches pages that are not committed yet.
func (m *MemoryInstance) CopyInto(offset uint64, b []byte) error {
	if m.closed {
		return ErrClosed
	}
	end := offset + uint64(len(b))
	if end < offset || end > MemoryPagesToBytesNum(m.Max) {
		return fmt.Errorf("%w: [%d, %d) exceeds max size %s", ErrOutOfBounds, offset, end, PagesToUnitOfBytes(m.Max))
	}
	if end > m.Size() {
		return fmt.Errorf("%w: [%d, %d) exceeds committed size %d", ErrOutOfBounds, offset, end, m.Size())
	}
	copy(m.Buffer[offset:end], b)
	return nil
}

// Close releases the whole reservation, including the guard page. It is safe to call more than once.
func (m *MemoryInstance) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.Buffer = nil
	for _, r := range m.records {
		writeRecord(r, 0, 0)
	}
	m.records = nil
	return platform.Release(m.start, m.reserved)
}

// bindRecord makes the memory record at addr mirror this memory's base and length.
func (m *MemoryInstance) bindRecord(addr uintptr) {
	m.records = append(m.records, addr)
	writeRecord(addr, m.start, m.Size())
}

// unbindRecord stops updating the memory record at addr.
func (m *MemoryInstance) unbindRecord(addr uintptr) {
	for i, r := range m.records {
		if r == addr {
			m.records = append(m.records[:i], m.records[i+1:]...)
			writeRecord(addr, 0, 0)
			return
		}
	}
}

func (m *MemoryInstance) syncRecords() {
	for _, r := range m.records {
		writeRecord(r, m.start, m.Size())
	}
}

// hasSize returns true if Len is sufficient for sizeInBytes at the given offset.
func (m *MemoryInstance) hasSize(offset uint32, sizeInBytes uint32) bool {
	return uint64(offset)+uint64(sizeInBytes) <= m.Size() // uint64 prevents overflow on add
}

// Read returns a view of byteCount bytes at offset, or false if out of range.
func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.hasSize(offset, byteCount) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount : offset+byteCount], true
}

// ReadUint32Le reads a little-endian uint32 at offset.
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset : offset+4]), true
}

// ReadUint64Le reads a little-endian uint64 at offset.
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset : offset+8]), true
}

// ReadFloat64Le reads a little-endian float64 at offset.
func (m *MemoryInstance) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// WriteUint32Le writes a little-endian uint32 at offset.
func (m *MemoryInstance) WriteUint32Le(offset, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le writes a little-endian uint64 at offset.
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// MemoryPagesToBytesNum converts the given pages into the number of bytes contained in these pages.
func MemoryPagesToBytesNum(pages uint32) (bytesNum uint64) {
	return uint64(pages) << MemoryPageSizeInBits
}

// PagesToUnitOfBytes converts the pages to a human-readable form similar to what's specified. e.g. 1 -> "64Ki"
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
func PagesToUnitOfBytes(pages uint32) string {
	k := pages * 64
	if k < 1024 {
		return fmt.Sprintf("%d Ki", k)
	}
	m := k / 1024
	if m < 1024 {
		return fmt.Sprintf("%d Mi", m)
	}
	g := m / 1024
	if g < 1024 {
		return fmt.Sprintf("%d Gi", g)
	}
	return fmt.Sprintf("%d Ti", g/1024)
}
