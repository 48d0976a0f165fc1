package abi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompartmentBase(t *testing.T) {
	const base = uintptr(7) << CompartmentAlignmentBits
	for _, off := range []uint64{0, ContextOffset(0), ContextOffset(MaxContexts - 1), RuntimeDataSize - 1} {
		require.Equal(t, base, CompartmentBase(base+uintptr(off)))
	}
}

func TestLayoutFits(t *testing.T) {
	require.LessOrEqual(t, uint64(TableRecordOffset(MaxTables)), uint64(ContextsOffset))
	require.LessOrEqual(t, uint64(ImmutableGlobalOffset(MaxGlobals)), uint64(ContextSize))
	require.Less(t, uint64(RuntimeDataSize), CompartmentAlignment)
}

func TestSymbolName(t *testing.T) {
	for _, tc := range []struct {
		kind     SymbolKind
		index    uint32
		expected string
	}{
		{kind: SymbolKindTypeID, index: 3, expected: "typeId3"},
		{kind: SymbolKindGlobal, index: 0, expected: "global0"},
		{kind: SymbolKindMemoryOffset, index: 0, expected: "memoryOffset0"},
		{kind: SymbolKindTableOffset, index: 1, expected: "tableOffset1"},
		{kind: SymbolKindFunctionDef, index: 12, expected: "functionDef12"},
		{kind: SymbolKindFunctionImport, index: 2, expected: "functionImport2"},
	} {
		t.Run(tc.expected, func(t *testing.T) {
			name := SymbolName(tc.kind, tc.index)
			require.Equal(t, tc.expected, name)

			kind, index, ok := ParseSymbolName(name)
			require.True(t, ok)
			require.Equal(t, tc.kind, kind)
			require.Equal(t, tc.index, index)
		})
	}

	_, _, ok := ParseSymbolName("memoryOffsetX")
	require.False(t, ok)
	_, _, ok = ParseSymbolName(PersonalitySymbol)
	require.False(t, ok)
}

func TestSymbolName_invalidKind(t *testing.T) {
	require.PanicsWithValue(t, "BUG: invalid symbol kind 0", func() { SymbolName(SymbolKindInvalid, 0) })
}

func TestGlobalInline(t *testing.T) {
	require.True(t, GlobalInline(true, false))
	require.True(t, GlobalInline(true, true))
	require.True(t, GlobalInline(false, true))
	require.False(t, GlobalInline(false, false))
}
