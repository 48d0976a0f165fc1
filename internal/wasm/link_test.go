package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLink(t *testing.T) {
	i32i32 := &FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	m := &Module{
		TypeSection: []*FunctionType{i32i32},
		ImportSection: []*Import{
			{Type: ExternTypeFunc, Module: "env", Name: "inc", DescFunc: 0},
			{Type: ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &GlobalType{ValType: ValueTypeI64}},
			{Type: ExternTypeTable, Module: "env", Name: "t", DescTable: &TableType{ElemType: ValueTypeAnyfunc, Limit: LimitsType{Min: 1}}},
		},
	}
	inc := &HostFunction{Type: &FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}},
		Call: func(_ context.Context, params []uint64) ([]uint64, error) { return []uint64{params[0] + 1}, nil }}
	g := &GlobalInstance{Type: &GlobalType{ValType: ValueTypeI64}, Val: 5}
	tbl := NewTableInstance(&TableType{ElemType: ValueTypeAnyfunc, Limit: LimitsType{Min: 2}})

	var requested []string
	r := ResolverFunc(func(moduleName, name string, expected *ImportType) (*Symbol, bool) {
		requested = append(requested, moduleName+"."+name+":"+expected.String())
		switch name {
		case "inc":
			return &Symbol{Func: inc}, true
		case "g":
			return &Symbol{Global: g}, true
		case "t":
			return &Symbol{Table: tbl}, true
		}
		return nil, false
	})

	linked, err := Link(m, r)
	require.NoError(t, err)
	require.Equal(t, []string{"env.inc:func i32_i32", "env.g:global i64", "env.t:table"}, requested)
	require.Equal(t, []*HostFunction{inc}, linked.Functions)
	require.Equal(t, []*GlobalInstance{g}, linked.Globals)
	require.Equal(t, []*TableInstance{tbl}, linked.Tables)
}

func TestLink_errors(t *testing.T) {
	m := &Module{
		TypeSection: []*FunctionType{{Params: []ValueType{ValueTypeI32}}},
		ImportSection: []*Import{
			{Type: ExternTypeFunc, Module: "env", Name: "missing", DescFunc: 0},
			{Type: ExternTypeFunc, Module: "env", Name: "wrongsig", DescFunc: 0},
			{Type: ExternTypeGlobal, Module: "env", Name: "mut", DescGlobal: &GlobalType{ValType: ValueTypeI32, Mutable: true}},
			{Type: ExternTypeGlobal, Module: "env", Name: "kind", DescGlobal: &GlobalType{ValType: ValueTypeI32}},
		},
	}
	r := ResolverFunc(func(_, name string, _ *ImportType) (*Symbol, bool) {
		switch name {
		case "wrongsig":
			return &Symbol{Func: &HostFunction{Type: &FunctionType{}}}, true
		case "mut":
			return &Symbol{Global: &GlobalInstance{Type: &GlobalType{ValType: ValueTypeI32}}}, true
		case "kind":
			return &Symbol{Func: &HostFunction{Type: &FunctionType{}}}, true
		}
		return nil, false
	})

	_, err := Link(m, r)
	require.ErrorIs(t, err, ErrLink)
	require.EqualError(t, err, `link failed: env.missing: unresolved func i32_v
env.wrongsig: signature mismatch: i32_v != v_v
env.mut: type mismatch: global mut i32 != global i32
env.kind: expected global i32`)
}
