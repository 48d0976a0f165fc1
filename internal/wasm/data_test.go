package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nianjia-runtime/nrt/internal/leb128"
)

func i32Const(v int32) *ConstantExpression {
	return &ConstantExpression{Opcode: OpcodeI32Const, Data: leb128.EncodeInt32(v)}
}

func TestModule_InitializeData(t *testing.T) {
	requireSupportedOS(t)

	mem, err := NewMemoryInstance(&MemoryType{Min: 1, Max: uint32Ptr(2)}, MemoryLimitPages)
	require.NoError(t, err)
	defer mem.Close()

	m := &Module{
		ImportSection: []*Import{{Type: ExternTypeGlobal, Module: "env", Name: "base", DescGlobal: &GlobalType{ValType: ValueTypeI32}}},
		MemorySection: []*MemoryType{{Min: 1, Max: uint32Ptr(2)}},
		DataSection: []*DataSegment{
			{OffsetExpression: i32Const(0), Init: []byte{1, 2, 3}},
			{OffsetExpression: &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}}, Init: []byte{0xa, 0xb}},
		},
	}
	globals := func(idx Index) (ValueType, uint64, bool) {
		if idx == 0 {
			return ValueTypeI32, 100, true
		}
		return 0, 0, false
	}
	require.NoError(t, m.InitializeData([]*MemoryInstance{mem}, globals))
	require.Equal(t, []byte{1, 2, 3}, mem.Buffer[:3])
	require.Equal(t, []byte{0xa, 0xb}, mem.Buffer[100:102])
}

func TestModule_InitializeData_outOfBounds(t *testing.T) {
	requireSupportedOS(t)

	mem, err := NewMemoryInstance(&MemoryType{Min: 1, Max: uint32Ptr(2)}, MemoryLimitPages)
	require.NoError(t, err)
	defer mem.Close()

	m := &Module{
		MemorySection: []*MemoryType{{Min: 1, Max: uint32Ptr(2)}},
		DataSection: []*DataSegment{
			{OffsetExpression: i32Const(0), Init: []byte{1}},
			{OffsetExpression: i32Const(int32(MemoryPageSize) - 1), Init: []byte{1, 2}},
		},
	}
	err = m.InitializeData([]*MemoryInstance{mem}, nil)
	require.ErrorIs(t, err, ErrOutOfBounds)
	require.Equal(t, byte(0), mem.Buffer[0], "no segment may be written when any is out of bounds")
}

func TestModule_InitializeData_errors(t *testing.T) {
	for _, tc := range []struct {
		name        string
		segment     *DataSegment
		expectedErr string
	}{
		{
			name:        "missing memory",
			segment:     &DataSegment{MemoryIndex: 1, OffsetExpression: i32Const(0)},
			expectedErr: "data[0]: memory 1 not instantiated",
		},
		{
			name:        "i64 offset",
			segment:     &DataSegment{OffsetExpression: &ConstantExpression{Opcode: OpcodeI64Const, Data: []byte{0}}},
			expectedErr: "data[0]: offset must be i32, but was i64",
		},
		{
			name:        "unresolved global",
			segment:     &DataSegment{OffsetExpression: &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}}},
			expectedErr: "data[0]: offset: global.get 0: no globals available",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := &Module{DataSection: []*DataSegment{tc.segment}}
			err := m.InitializeData([]*MemoryInstance{{}}, nil)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestConstantExpression_Evaluate(t *testing.T) {
	for _, tc := range []struct {
		name         string
		expr         *ConstantExpression
		expectedType ValueType
		expected     uint64
	}{
		{name: "i32", expr: i32Const(-1), expectedType: ValueTypeI32, expected: 0xffffffff},
		{name: "i64", expr: &ConstantExpression{Opcode: OpcodeI64Const, Data: leb128.EncodeInt64(-2)}, expectedType: ValueTypeI64, expected: 0xfffffffffffffffe},
		{name: "f32", expr: &ConstantExpression{Opcode: OpcodeF32Const, Data: []byte{0, 0, 0x80, 0x3f}}, expectedType: ValueTypeF32, expected: 0x3f800000},
		{name: "f64", expr: &ConstantExpression{Opcode: OpcodeF64Const, Data: []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}}, expectedType: ValueTypeF64, expected: 0x3ff0000000000000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			typ, v, err := tc.expr.Evaluate(nil)
			require.NoError(t, err)
			require.Equal(t, tc.expectedType, typ)
			require.Equal(t, tc.expected, v)
		})
	}

	_, _, err := (&ConstantExpression{Opcode: OpcodeF32Const, Data: []byte{0}}).Evaluate(nil)
	require.EqualError(t, err, "read f32: immediate too short")
	_, _, err = (&ConstantExpression{Opcode: OpcodeNop}).Evaluate(nil)
	require.EqualError(t, err, "unsupported opcode in constant expression: nop")
}
