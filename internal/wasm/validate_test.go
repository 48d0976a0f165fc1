package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModule_Validate(t *testing.T) {
	v_v := &FunctionType{}
	valid := func() *Module {
		return &Module{
			TypeSection:     []*FunctionType{v_v},
			FunctionSection: []Index{0},
			CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
			MemorySection:   []*MemoryType{{Min: 1}},
			GlobalSection:   []*Global{{Type: &GlobalType{ValType: ValueTypeI32}, Init: i32Const(1)}},
			ExportSection:   []*Export{{Type: ExternTypeFunc, Name: "f", Index: 0}},
			DataSection:     []*DataSegment{{OffsetExpression: i32Const(0)}},
		}
	}
	require.NoError(t, valid().Validate(MemoryLimitPages))

	for _, tc := range []struct {
		name        string
		mutate      func(m *Module)
		expectedErr string
	}{
		{
			name:        "multi-value",
			mutate:      func(m *Module) { m.TypeSection[0] = &FunctionType{Results: []ValueType{ValueTypeI32, ValueTypeI32}} },
			expectedErr: "invalid module: type[0]: multiple results are not supported: v_i32i32",
		},
		{
			name:        "arity mismatch",
			mutate:      func(m *Module) { m.CodeSection = nil },
			expectedErr: "invalid module: function and code section have inconsistent lengths: 1 != 0",
		},
		{
			name:        "type index",
			mutate:      func(m *Module) { m.FunctionSection[0] = 3 },
			expectedErr: "invalid module: function[0]: type index 3 out of range",
		},
		{
			name:        "body without end",
			mutate:      func(m *Module) { m.CodeSection[0].Body = []byte{OpcodeNop} },
			expectedErr: "invalid module: function[0]: body must end with end",
		},
		{
			name:        "invalid local",
			mutate:      func(m *Module) { m.CodeSection[0].LocalTypes = []ValueType{ValueTypeNone} },
			expectedErr: "invalid module: function[0]: local[0] has invalid type 0x40",
		},
		{
			name:        "two memories",
			mutate:      func(m *Module) { m.MemorySection = append(m.MemorySection, &MemoryType{}) },
			expectedErr: "invalid module: at most one memory is supported, but 2 declared",
		},
		{
			name:        "memory over limit",
			mutate:      func(m *Module) { m.MemorySection[0].Max = uint32Ptr(MemoryLimitPages + 1) },
			expectedErr: "invalid module: memory[0]: max 65537 pages (4 Gi) outside range of 65536 pages (4 Gi)",
		},
		{
			name:        "global init type",
			mutate:      func(m *Module) { m.GlobalSection[0].Type.ValType = ValueTypeI64 },
			expectedErr: "invalid module: global[0]: initializer type i32 != i64",
		},
		{
			name: "global.get of defined global",
			mutate: func(m *Module) {
				m.GlobalSection[0].Init = &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}}
			},
			expectedErr: "invalid module: global[0]: global.get 0 must refer to an imported immutable global",
		},
		{
			name:        "duplicate export",
			mutate:      func(m *Module) { m.ExportSection = append(m.ExportSection, m.ExportSection[0]) },
			expectedErr: `invalid module: duplicate export name "f"`,
		},
		{
			name:        "export index",
			mutate:      func(m *Module) { m.ExportSection[0].Index = 1 },
			expectedErr: `invalid module: export "f": func index 1 out of range`,
		},
		{
			name: "start type",
			mutate: func(m *Module) {
				m.TypeSection[0] = &FunctionType{Params: []ValueType{ValueTypeI32}}
				start := Index(0)
				m.StartSection = &start
			},
			expectedErr: "invalid module: start function 0 must have type v_v, but was i32_v",
		},
		{
			name:        "data without memory",
			mutate:      func(m *Module) { m.MemorySection = nil },
			expectedErr: "invalid module: data[0]: memory index 0 out of range",
		},
		{
			name: "import type index",
			mutate: func(m *Module) {
				m.ImportSection = []*Import{{Type: ExternTypeFunc, Module: "env", Name: "f", DescFunc: 9}}
			},
			expectedErr: "invalid module: import[0] env.f: type index 9 out of range",
		},
		{
			name:        "too many globals",
			mutate:      func(m *Module) { m.GlobalSection = globals(1025) },
			expectedErr: "invalid module: 1025 globals exceed the limit of 1024",
		},
		{
			name: "imported globals count against the limit",
			mutate: func(m *Module) {
				m.ImportSection = []*Import{{Type: ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &GlobalType{ValType: ValueTypeI32}}}
				m.GlobalSection = globals(1024)
			},
			expectedErr: "invalid module: 1025 globals exceed the limit of 1024",
		},
		{
			name: "too many tables",
			mutate: func(m *Module) {
				for i := 0; i < 65; i++ {
					m.TableSection = append(m.TableSection, &TableType{ElemType: ValueTypeAnyfunc})
				}
			},
			expectedErr: "invalid module: 65 tables exceed the limit of 64",
		},
		{
			name: "table min over limit",
			mutate: func(m *Module) {
				m.TableSection = []*TableType{{ElemType: ValueTypeAnyfunc, Limit: LimitsType{Min: 0xffffffff}}}
			},
			expectedErr: "invalid module: table[0]: min 4294967295 elements exceeds the limit of 134217728",
		},
		{
			name: "table max over limit",
			mutate: func(m *Module) {
				limit := MaximumTableSize + 1
				m.TableSection = []*TableType{{ElemType: ValueTypeAnyfunc, Limit: LimitsType{Max: &limit}}}
			},
			expectedErr: "invalid module: table[0]: max 134217729 elements exceeds the limit of 134217728",
		},
		{
			name: "imported table min over limit",
			mutate: func(m *Module) {
				m.ImportSection = []*Import{{Type: ExternTypeTable, Module: "env", Name: "t",
					DescTable: &TableType{ElemType: ValueTypeAnyfunc, Limit: LimitsType{Min: MaximumTableSize + 1}}}}
			},
			expectedErr: "invalid module: import[0] env.t: min 134217729 elements exceeds the limit of 134217728",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := valid()
			tc.mutate(m)
			err := m.Validate(MemoryLimitPages)
			require.ErrorIs(t, err, ErrInvalidModule)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func globals(n int) []*Global {
	ret := make([]*Global, n)
	for i := range ret {
		ret[i] = &Global{Type: &GlobalType{ValType: ValueTypeI32}, Init: i32Const(1)}
	}
	return ret
}

func TestModule_indexSpaces(t *testing.T) {
	i32 := &FunctionType{Params: []ValueType{ValueTypeI32}}
	m := &Module{
		TypeSection: []*FunctionType{{}, i32},
		ImportSection: []*Import{
			{Type: ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &GlobalType{ValType: ValueTypeF32}},
			{Type: ExternTypeFunc, Module: "env", Name: "f", DescFunc: 1},
			{Type: ExternTypeMemory, Module: "env", Name: "mem", DescMem: &MemoryType{Min: 1}},
		},
		FunctionSection: []Index{0, 0},
		CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}, {Body: []byte{OpcodeNop, OpcodeEnd}}},
		GlobalSection:   []*Global{{Type: &GlobalType{ValType: ValueTypeI64, Mutable: true}, Init: i32Const(0)}},
		NameSection:     &NameSection{FunctionNames: map[Index]string{2: "second"}},
	}

	require.Equal(t, Index(3), m.FunctionCount())
	require.True(t, m.IsImport(ExternTypeFunc, 0))
	require.False(t, m.IsImport(ExternTypeFunc, 1))
	require.Same(t, i32, m.TypeOfFunction(0))
	require.Same(t, m.TypeSection[0], m.TypeOfFunction(2))
	require.Nil(t, m.TypeOfFunction(3))
	require.Nil(t, m.CodeOfFunction(0))
	require.Same(t, m.CodeSection[1], m.CodeOfFunction(2))

	require.Equal(t, Index(2), m.GlobalCount())
	require.Equal(t, ValueTypeF32, m.TypeOfGlobal(0).ValType)
	require.True(t, m.TypeOfGlobal(1).Mutable)
	require.Nil(t, m.TypeOfGlobal(2))

	require.Equal(t, Index(1), m.MemoryCount())
	require.True(t, m.IsImport(ExternTypeMemory, 0))
	require.Equal(t, uint32(1), m.TypeOfMemory(0).Min)
	require.Equal(t, "env", m.ImportOf(ExternTypeMemory, 0).Module)
	require.Nil(t, m.ImportOf(ExternTypeGlobal, 1))

	require.Equal(t, "$1", m.FunctionName(1))
	require.Equal(t, "second", m.FunctionName(2))
}
