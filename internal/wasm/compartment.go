package wasm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/nianjia-runtime/nrt/internal/abi"
	"github.com/nianjia-runtime/nrt/internal/platform"
)

// Compartment groups the contexts of instances that may share memories. Its runtime data starts at a
// 4 GiB aligned address and every context pointer it issues lies in the same 4 GiB region, so
// compiled code finds the runtime data by masking its context pointer (abi.CompartmentBase).
type Compartment struct {
	// ID is unique within the process.
	ID uint64

	base   uintptr
	logger logrus.FieldLogger

	mux      sync.Mutex
	contexts [abi.MaxContexts]*Context
	memories [abi.MaxMemories]*MemoryInstance
	tables   [abi.MaxTables]*TableInstance
	closed   bool
}

var (
	compartmentIDs uint64
	// compartments maps runtime data bases to their Compartment, so host intrinsics can find the
	// compartment of a context pointer.
	compartments sync.Map
)

// NewCompartment reserves the runtime data of a new compartment at a 4 GiB boundary.
func NewCompartment(logger logrus.FieldLogger) (*Compartment, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	base, err := platform.ReserveAligned(abi.RuntimeDataSize, abi.CompartmentAlignment)
	if err != nil {
		return nil, fmt.Errorf("%w: compartment runtime data: %v", ErrMemoryReserve, err)
	}
	if err = platform.Commit(base, abi.HeaderSize); err != nil {
		_ = platform.Release(base, abi.RuntimeDataSize)
		return nil, fmt.Errorf("%w: compartment header: %v", ErrMemoryCommit, err)
	}

	c := &Compartment{ID: atomic.AddUint64(&compartmentIDs, 1), base: base}
	c.logger = logger.WithField("compartment", c.ID)
	storeUint64(base+abi.CompartmentMagicOffset, abi.CompartmentMagic)
	storeUint64(base+abi.CompartmentIDOffset, c.ID)
	compartments.Store(base, c)
	c.logger.WithField("base", fmt.Sprintf("%#x", base)).Debug("compartment created")
	return c, nil
}

// CompartmentOf returns the compartment that issued the context pointer.
func CompartmentOf(ctxPtr uintptr) (*Compartment, bool) {
	v, ok := compartments.Load(abi.CompartmentBase(ctxPtr))
	if !ok {
		return nil, false
	}
	return v.(*Compartment), true
}

// ContextOf returns the context whose pointer is ctxPtr.
func ContextOf(ctxPtr uintptr) (*Context, bool) {
	c, ok := CompartmentOf(ctxPtr)
	if !ok {
		return nil, false
	}
	off := uint64(ctxPtr - c.base)
	if off < abi.ContextsOffset || (off-abi.ContextsOffset)%abi.ContextSize != 0 {
		return nil, false
	}
	id := (off - abi.ContextsOffset) / abi.ContextSize
	if id >= abi.MaxContexts {
		return nil, false
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	ctx := c.contexts[id]
	return ctx, ctx != nil
}

// Base returns the address of the runtime data.
func (c *Compartment) Base() uintptr {
	return c.base
}

// NewContext commits and returns the runtime data of a new execution context.
func (c *Compartment) NewContext() (*Context, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	for id := range c.contexts {
		if c.contexts[id] != nil {
			continue
		}
		ptr := c.base + uintptr(abi.ContextOffset(uint32(id)))
		if err := platform.Commit(ptr, abi.ContextSize); err != nil {
			return nil, fmt.Errorf("%w: context %d: %v", ErrMemoryCommit, id, err)
		}
		ctx := &Context{compartment: c, ID: uint32(id), ptr: ptr}
		storeUint64(ptr+abi.ContextIDOffset, uint64(id))
		c.contexts[id] = ctx
		c.logger.WithField("context", id).Debug("context created")
		return ctx, nil
	}
	return nil, fmt.Errorf("%w: %d contexts", ErrCompartmentFull, abi.MaxContexts)
}

// AddMemory assigns the memory a record in the runtime data and returns the record's id. The record
// follows the memory as it grows.
func (c *Compartment) AddMemory(m *MemoryInstance) (uint32, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	for id := range c.memories {
		if c.memories[id] == m {
			return uint32(id), nil
		}
	}
	for id := range c.memories {
		if c.memories[id] != nil {
			continue
		}
		c.memories[id] = m
		m.bindRecord(c.base + uintptr(abi.MemoryRecordOffset(uint32(id))))
		return uint32(id), nil
	}
	return 0, fmt.Errorf("%w: %d memories", ErrCompartmentFull, abi.MaxMemories)
}

// RemoveMemory clears the record of the memory. It does not close the memory.
func (c *Compartment) RemoveMemory(id uint32) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if m := c.memories[id]; m != nil {
		m.unbindRecord(c.base + uintptr(abi.MemoryRecordOffset(id)))
		c.memories[id] = nil
	}
}

// Memory returns the memory with the given record id, or nil.
func (c *Compartment) Memory(id uint32) *MemoryInstance {
	if id >= abi.MaxMemories {
		return nil
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.memories[id]
}

// AddTable assigns the table a record in the runtime data and returns the record's id.
func (c *Compartment) AddTable(t *TableInstance) (uint32, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	for id := range c.tables {
		if c.tables[id] != nil {
			continue
		}
		c.tables[id] = t
		rec := c.base + uintptr(abi.TableRecordOffset(uint32(id)))
		storeUint64(rec+8, uint64(len(t.Elements)))
		return uint32(id), nil
	}
	return 0, fmt.Errorf("%w: %d tables", ErrCompartmentFull, abi.MaxTables)
}

// RemoveTable clears the record of the table.
func (c *Compartment) RemoveTable(id uint32) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.tables[id] != nil {
		storeUint64(c.base+uintptr(abi.TableRecordOffset(id))+8, 0)
		c.tables[id] = nil
	}
}

// Close releases the runtime data and every context. Memories are unbound, not closed, since they
// may be owned elsewhere. It is safe to call more than once.
func (c *Compartment) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for id, m := range c.memories {
		if m != nil {
			m.unbindRecord(c.base + uintptr(abi.MemoryRecordOffset(uint32(id))))
			c.memories[id] = nil
		}
	}
	for id := range c.contexts {
		c.contexts[id] = nil
	}
	compartments.Delete(c.base)
	c.logger.Debug("compartment closed")
	return platform.Release(c.base, abi.RuntimeDataSize)
}

func (c *Compartment) releaseContext(ctx *Context) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed || c.contexts[ctx.ID] != ctx {
		return nil
	}
	c.contexts[ctx.ID] = nil
	c.logger.WithField("context", ctx.ID).Debug("context released")
	return platform.Decommit(ctx.ptr, abi.ContextSize)
}

// Context is the runtime data of one instance. Its pointer is the hidden first argument of every
// compiled function of the instance.
type Context struct {
	// ID is the index of the context within its compartment.
	ID uint32

	compartment *Compartment
	ptr         uintptr
	// memories are indexed by the module's memory index.
	memories []*MemoryInstance
}

// Pointer returns the context pointer passed to compiled code.
func (ctx *Context) Pointer() uintptr {
	return ctx.ptr
}

// Compartment returns the owning compartment.
func (ctx *Context) Compartment() *Compartment {
	return ctx.compartment
}

// BindMemory associates the module memory index with a memory, for host intrinsics.
func (ctx *Context) BindMemory(index Index, m *MemoryInstance) {
	for Index(len(ctx.memories)) <= index {
		ctx.memories = append(ctx.memories, nil)
	}
	ctx.memories[index] = m
}

// Memory returns the memory bound at the module memory index, or nil.
func (ctx *Context) Memory(index Index) *MemoryInstance {
	if index >= Index(len(ctx.memories)) {
		return nil
	}
	return ctx.memories[index]
}

// GlobalAddress returns the address of a global slot: in the mutable area for inline globals (see
// abi.GlobalInline), and in the immutable area otherwise.
func (ctx *Context) GlobalAddress(slot uint32, inline bool) uintptr {
	if slot >= abi.MaxGlobals {
		panic(fmt.Sprintf("BUG: global slot %d out of range", slot))
	}
	if inline {
		return ctx.ptr + uintptr(abi.MutableGlobalOffset(slot))
	}
	return ctx.ptr + uintptr(abi.ImmutableGlobalOffset(slot))
}

// SetGlobal stores the raw bits of a global. hi is only used by v128.
func (ctx *Context) SetGlobal(slot uint32, inline bool, lo, hi uint64) {
	addr := ctx.GlobalAddress(slot, inline)
	storeUint64(addr, lo)
	storeUint64(addr+8, hi)
}

// Global loads the raw bits of a global.
func (ctx *Context) Global(slot uint32, inline bool) (lo, hi uint64) {
	addr := ctx.GlobalAddress(slot, inline)
	return loadUint64(addr), loadUint64(addr + 8)
}

// Close returns the context's pages to the host. It is safe to call more than once.
func (ctx *Context) Close() error {
	ctx.memories = nil
	return ctx.compartment.releaseContext(ctx)
}

func storeUint64(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

func loadUint64(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr))
}

// writeRecord updates a memory record in compartment runtime data.
func writeRecord(addr, base uintptr, length uint64) {
	storeUint64(addr+abi.MemoryRecordBaseOffset, uint64(base))
	storeUint64(addr+abi.MemoryRecordLengthOffset, length)
}

// TableInstance holds function handles. Tables are linked and recorded in the runtime data, but no
// instruction reads them.
type TableInstance struct {
	Type     *TableType
	Elements []uintptr
}

// NewTableInstance returns a table of Min null elements.
func NewTableInstance(tt *TableType) *TableInstance {
	return &TableInstance{Type: tt, Elements: make([]uintptr, tt.Limit.Min)}
}
