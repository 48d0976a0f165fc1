package ssa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPassDeadBlockElimination_prunesPhiEdges(t *testing.T) {
	_, b := newTestBuilder(t, nil, []Type{TypeI32})
	dead, merge := b.AllocateBasicBlock(), b.AllocateBasicBlock()
	phi := b.AllocatePhi(merge, TypeI32)

	one := b.AllocateInstruction().AsIconst32(1).Insert(b).Return()
	phi.AddIncoming(one, b.EntryBlock())
	b.AllocateInstruction().AsJump(merge).Insert(b)

	b.SetCurrentBlock(dead)
	two := b.AllocateInstruction().AsIconst32(2).Insert(b).Return()
	phi.AddIncoming(two, dead)
	b.AllocateInstruction().AsJump(merge).Insert(b)

	b.SetCurrentBlock(merge)
	b.AllocateInstruction().AsReturn(phi.Return()).Insert(b)

	require.Equal(t, 2, merge.Preds())
	fn := b.Finish()
	require.Equal(t, 1, merge.Preds())
	require.Equal(t, 1, phi.IncomingCount())
	require.False(t, dead.Valid())
	require.Len(t, fn.Blocks(), 2)
}

func TestFunction_Verify(t *testing.T) {
	tests := []struct {
		name   string
		build  func(b Builder)
		expErr string
	}{
		{
			name:   "missing terminator",
			build:  func(b Builder) { b.AllocateInstruction().AsIconst32(1).Insert(b) },
			expErr: "blk0: missing terminator",
		},
		{
			name: "phi without incoming edge",
			build: func(b Builder) {
				merge := b.AllocateBasicBlock()
				b.AllocatePhi(merge, TypeI32)
				b.AllocateInstruction().AsJump(merge).Insert(b)
				b.SetCurrentBlock(merge)
				b.AllocateInstruction().AsReturn(ValueInvalid).Insert(b)
			},
			expErr: "blk1: Phi: 0 incoming edges for 1 predecessors",
		},
		{
			name: "non canonical vector phi",
			build: func(b Builder) {
				merge := b.AllocateBasicBlock()
				phi := b.AllocatePhi(merge, TypeI64x2)
				v := b.AllocateInstruction().AsVconst(1, 2).Insert(b).Return()
				phi.AddIncoming(v, b.EntryBlock())
				b.AllocateInstruction().AsJump(merge).Insert(b)
				b.SetCurrentBlock(merge)
				b.AllocateInstruction().AsReturn(ValueInvalid).Insert(b)
			},
			expErr: "blk1: Phi: non-canonical vector type",
		},
		{
			name: "return type mismatch",
			build: func(b Builder) {
				v := b.AllocateInstruction().AsIconst32(1).Insert(b).Return()
				b.AllocateInstruction().AsReturn(v).Insert(b)
			},
			expErr: "blk0: Return: returns i32 for sig0: v_v",
		},
		{
			name: "branch to entry",
			build: func(b Builder) {
				b.AllocateInstruction().AsJump(b.EntryBlock()).Insert(b)
			},
			expErr: "blk0: entry block has predecessors",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, b := newTestBuilder(t, nil, nil)
			tc.build(b)
			b.RunPasses()
			err := b.(*builder).fn.Verify()
			require.EqualError(t, err, tc.expErr)
			require.Panics(t, func() { b.Finish() })
		})
	}
}

func TestModule_declarations(t *testing.T) {
	m := NewModule("m")
	sig := m.DeclareSignature([]Type{TypePtr}, nil, CallConvFast)
	require.Same(t, sig, m.DeclareSignature([]Type{TypePtr}, nil, CallConvFast))
	require.NotSame(t, sig, m.DeclareSignature([]Type{TypePtr}, nil, CallConvC))

	f := m.DeclareFunction("functionDef0", sig, LinkageDefined)
	require.Equal(t, f, m.DeclareFunction("functionDef0", sig, LinkageDefined))
	require.Panics(t, func() { m.DeclareFunction("functionDef0", sig, LinkageImported) })

	s := m.DeclareImportedConstant("typeId0")
	require.Equal(t, s, m.DeclareImportedConstant("typeId0"))
	sym, ok := m.LookupSymbol("typeId0")
	require.True(t, ok)
	require.Equal(t, "typeId0", sym.Name)

	m.Freeze()
	// Existing declarations are still found.
	require.Equal(t, s, m.DeclareImportedConstant("typeId0"))
	require.PanicsWithValue(t, "BUG: symbol global0 declared after the module was frozen", func() {
		m.DeclareImportedConstant("global0")
	})
	require.Panics(t, func() { m.DeclareFunction("functionDef1", sig, LinkageDefined) })
}

func TestModule_Format(t *testing.T) {
	m := NewModule("m")
	sig := m.DeclareSignature([]Type{TypePtr}, nil, CallConvFast)
	m.DeclareImportedConstant("memoryOffset0")
	ref := m.DeclareFunction("functionDef0", sig, LinkageDefined)
	m.Function(ref).Personality = "__gxx_personality_v0"

	b := NewBuilder(m)
	b.Init(sig)
	b.AllocateInstruction().AsReturn(ValueInvalid).Insert(b)
	m.SetBody(ref, b.Finish())

	require.Equal(t, `module m
signature sig0: ptr_v
symbol s0 = memoryOffset0
defined f0 functionDef0 sig0 personality __gxx_personality_v0

function functionDef0 sig0: ptr_v
params: v0:ptr
blk0:
	Return
`, m.Format())
	require.Panics(t, func() { m.SetBody(ref, &Function{}) })
}

func TestType(t *testing.T) {
	for _, tc := range []struct {
		typ  Type
		name string
		bits byte
	}{
		{TypeI1, "i1", 1},
		{TypeI32, "i32", 32},
		{TypeI64, "i64", 64},
		{TypeF32, "f32", 32},
		{TypeF64, "f64", 64},
		{TypeV128, "v128", 128},
		{TypeI64x2, "i64x2", 128},
		{TypePtr, "ptr", 64},
	} {
		require.Equal(t, tc.name, tc.typ.String())
		require.Equal(t, tc.bits, tc.typ.Bits())
	}
	require.Equal(t, byte(16), TypeV128.Size())
	require.Equal(t, byte(1), TypeI1.Size())
}
