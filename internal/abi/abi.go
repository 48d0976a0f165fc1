// Package abi is the layout contract shared by generated code and the runtime: where compiled code
// finds memory bases and globals relative to its hidden context pointer, which imported constants it
// expects the loader to resolve, and which host intrinsics it may call.
//
// Nothing here may depend on the Wasm module model so both sides can import it.
package abi

import (
	"fmt"
	"strconv"
	"strings"
)

// CompartmentAlignmentBits is log2 of CompartmentAlignment.
const CompartmentAlignmentBits = 32

// CompartmentAlignment is the alignment of a compartment's runtime data. Every context pointer issued
// by a compartment lies in [base, base+CompartmentAlignment), so the base is recovered by clearing
// the low CompartmentAlignmentBits bits.
const CompartmentAlignment uint64 = 1 << CompartmentAlignmentBits

// CompartmentMask is and-ed with a context pointer to recover the compartment base.
const CompartmentMask uint64 = ^(CompartmentAlignment - 1)

// CompartmentBase returns the runtime data base of the compartment owning the context pointer.
func CompartmentBase(ctx uintptr) uintptr {
	return uintptr(uint64(ctx) & CompartmentMask)
}

const (
	// MaxMemories is the number of memory records in a compartment.
	MaxMemories = 64
	// MaxTables is the number of table records in a compartment.
	MaxTables = 64
	// MaxContexts is the number of contexts a compartment can issue.
	MaxContexts = 256
	// MaxGlobals is the number of mutable and the number of immutable global slots per context.
	MaxGlobals = 1024
	// GlobalSlotSize fits any value type, including v128.
	GlobalSlotSize = 16
)

// Compartment runtime data layout, as byte offsets from the compartment base.
const (
	// CompartmentMagicOffset holds CompartmentMagic once the runtime data is initialized.
	CompartmentMagicOffset = 0
	// CompartmentIDOffset holds the compartment's uint64 id.
	CompartmentIDOffset = 8
	// MemoriesOffset is the start of MaxMemories records of MemoryRecordSize bytes.
	MemoriesOffset = 64
	// MemoryRecordSize is {base uint64, lengthInBytes uint64}.
	MemoryRecordSize = 16
	// MemoryRecordBaseOffset is the offset of the base pointer within a memory record.
	MemoryRecordBaseOffset = 0
	// MemoryRecordLengthOffset is the offset of the committed length within a memory record.
	MemoryRecordLengthOffset = 8
	// TablesOffset is the start of MaxTables records of TableRecordSize bytes.
	TablesOffset = MemoriesOffset + MaxMemories*MemoryRecordSize
	// TableRecordSize is {base uint64, lengthInElements uint64}.
	TableRecordSize = 16
	// HeaderSize is the size of everything before the first context, rounded to ContextSize.
	HeaderSize = ContextSize
	// ContextsOffset is the start of MaxContexts context records of ContextSize bytes.
	ContextsOffset = HeaderSize
	// RuntimeDataSize is the total size of a compartment's runtime data.
	RuntimeDataSize = ContextsOffset + MaxContexts*ContextSize
)

// CompartmentMagic marks initialized compartment runtime data.
const CompartmentMagic uint64 = 0x6e72742d636d7074 // "nrt-cmpt"

// Context runtime data layout, as byte offsets from a context pointer.
const (
	// ContextIDOffset holds the uint64 index of the context within its compartment.
	ContextIDOffset = 0
	// MutableGlobalsOffset is the start of MaxGlobals slots addressed relative to the context.
	MutableGlobalsOffset = 64
	// ImmutableGlobalsOffset is the start of MaxGlobals slots addressed through imported constants.
	ImmutableGlobalsOffset = MutableGlobalsOffset + MaxGlobals*GlobalSlotSize
	// ContextSize is a multiple of every supported host page size.
	ContextSize = 64 << 10
)

// MemoryRecordOffset returns the offset of memory id's record from the compartment base.
func MemoryRecordOffset(id uint32) uint64 {
	return MemoriesOffset + uint64(id)*MemoryRecordSize
}

// TableRecordOffset returns the offset of table id's record from the compartment base.
func TableRecordOffset(id uint32) uint64 {
	return TablesOffset + uint64(id)*TableRecordSize
}

// ContextOffset returns the offset of context id from the compartment base.
func ContextOffset(id uint32) uint64 {
	return ContextsOffset + uint64(id)*ContextSize
}

// MutableGlobalOffset returns the offset of mutable global slot from a context pointer.
func MutableGlobalOffset(slot uint32) uint64 {
	return MutableGlobalsOffset + uint64(slot)*GlobalSlotSize
}

// GlobalInline reports whether a global is stored in the context's mutable area and addressed relative
// to the context pointer. Defined immutable globals are addressed absolutely instead.
func GlobalInline(imported, mutable bool) bool {
	return imported || mutable
}

// ImmutableGlobalOffset returns the offset of immutable global slot from a context pointer.
func ImmutableGlobalOffset(slot uint32) uint64 {
	return ImmutableGlobalsOffset + uint64(slot)*GlobalSlotSize
}

// SymbolKind classifies an imported constant.
type SymbolKind byte

const (
	SymbolKindInvalid SymbolKind = iota
	// SymbolKindTypeID resolves to the canonical id of a function type.
	SymbolKindTypeID
	// SymbolKindGlobal resolves to a context-relative offset for globals stored inline in the context
	// (see GlobalInline), or to the absolute address of the value otherwise.
	SymbolKindGlobal
	// SymbolKindMemoryOffset resolves to MemoryRecordOffset of the instance's memory.
	SymbolKindMemoryOffset
	// SymbolKindTableOffset resolves to TableRecordOffset of the instance's table.
	SymbolKindTableOffset
	// SymbolKindFunctionDef resolves to the handle of a module-defined function.
	SymbolKindFunctionDef
	// SymbolKindFunctionImport resolves to the handle of an imported function.
	SymbolKindFunctionImport
)

var symbolPrefixes = [...]string{
	SymbolKindTypeID:         "typeId",
	SymbolKindGlobal:         "global",
	SymbolKindMemoryOffset:   "memoryOffset",
	SymbolKindTableOffset:    "tableOffset",
	SymbolKindFunctionDef:    "functionDef",
	SymbolKindFunctionImport: "functionImport",
}

// String implements fmt.Stringer.
func (k SymbolKind) String() string {
	if int(k) < len(symbolPrefixes) && symbolPrefixes[k] != "" {
		return symbolPrefixes[k]
	}
	return "invalid"
}

// SymbolName returns the name of the imported constant of kind for index i, e.g. "memoryOffset0".
func SymbolName(k SymbolKind, i uint32) string {
	if k == SymbolKindInvalid || int(k) >= len(symbolPrefixes) {
		panic(fmt.Sprintf("BUG: invalid symbol kind %d", k))
	}
	return symbolPrefixes[k] + strconv.FormatUint(uint64(i), 10)
}

// ParseSymbolName is the inverse of SymbolName.
func ParseSymbolName(name string) (SymbolKind, uint32, bool) {
	for k := SymbolKindFunctionImport; k > SymbolKindInvalid; k-- {
		prefix := symbolPrefixes[k]
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		i, err := strconv.ParseUint(name[len(prefix):], 10, 32)
		if err != nil {
			return SymbolKindInvalid, 0, false
		}
		return k, uint32(i), true
	}
	return SymbolKindInvalid, 0, false
}

// PersonalitySymbol is the unwinding personality routine referenced by every compiled function.
const PersonalitySymbol = "__gxx_personality_v0"

// Host intrinsics called with the standard calling convention. Each receives the context pointer
// explicitly as its first argument.
const (
	// IntrinsicTrap is (ctx, code i32) and never returns.
	IntrinsicTrap = "nrt.trap"
	// IntrinsicMemoryGrow is (ctx, memoryIndex i32, deltaPages i32) -> previous pages or -1.
	IntrinsicMemoryGrow = "nrt.memory.grow"
	// IntrinsicMemorySize is (ctx, memoryIndex i32) -> pages.
	IntrinsicMemorySize = "nrt.memory.size"
)

// TrapCode is the argument of IntrinsicTrap.
type TrapCode uint32

const (
	TrapCodeUnreachable TrapCode = iota + 1
	TrapCodeOutOfBoundsMemoryAccess
)

// String implements fmt.Stringer.
func (c TrapCode) String() string {
	switch c {
	case TrapCodeUnreachable:
		return "unreachable"
	case TrapCodeOutOfBoundsMemoryAccess:
		return "out of bounds memory access"
	}
	return fmt.Sprintf("trap(%d)", uint32(c))
}
