package wasm

import "fmt"

// InitializeData copies every data segment into its memory. memories is indexed by the module memory
// index and globals resolves global.get offsets.
//
// All offsets are evaluated and bounds checked before anything is written, so a failure leaves the
// memories untouched.
func (m *Module) InitializeData(memories []*MemoryInstance, globals GlobalLookup) error {
	offsets := make([]uint64, len(m.DataSection))
	for i, d := range m.DataSection {
		if d.MemoryIndex >= Index(len(memories)) || memories[d.MemoryIndex] == nil {
			return fmt.Errorf("data[%d]: memory %d not instantiated", i, d.MemoryIndex)
		}
		t, v, err := d.OffsetExpression.Evaluate(globals)
		if err != nil {
			return fmt.Errorf("data[%d]: offset: %w", i, err)
		}
		if t != ValueTypeI32 {
			return fmt.Errorf("data[%d]: offset must be i32, but was %s", i, ValueTypeName(t))
		}
		offset := uint64(uint32(v))
		mem := memories[d.MemoryIndex]
		if end := offset + uint64(len(d.Init)); end > mem.Size() {
			return fmt.Errorf("data[%d]: %w: [%d, %d) exceeds memory size %d", i, ErrOutOfBounds, offset, end, mem.Size())
		}
		offsets[i] = offset
	}
	for i, d := range m.DataSection {
		if err := memories[d.MemoryIndex].CopyInto(offsets[i], d.Init); err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
	}
	return nil
}
