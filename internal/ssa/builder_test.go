package ssa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, params, results []Type) (*Module, Builder) {
	t.Helper()
	m := NewModule("test")
	sig := m.DeclareSignature(params, results, CallConvFast)
	b := NewBuilder(m)
	b.Init(sig)
	return m, b
}

func TestBuilder_constantReturn(t *testing.T) {
	m, b := newTestBuilder(t, []Type{TypePtr}, []Type{TypeI32})
	c := b.AllocateInstruction().AsIconst32(42).Insert(b).Return()
	b.AllocateInstruction().AsReturn(c).Insert(b)

	ref := m.DeclareFunction("answer", b.Signature(), LinkageDefined)
	fn := b.Finish()
	m.SetBody(ref, fn)

	require.Equal(t, `function answer sig0: ptr_i32
params: v0:ptr
blk0:
	v1:i32 = Iconst_32 0x2a
	Return v1
`, fn.Format())
	require.Equal(t, fn, m.Function(ref).Body())
	require.Equal(t, m.Function(ref), fn.Decl())
}

func TestBuilder_InsertInstruction_afterTerminator(t *testing.T) {
	_, b := newTestBuilder(t, nil, nil)
	b.AllocateInstruction().AsUnreachable().Insert(b)
	require.PanicsWithValue(t, "BUG: inserting Iconst after the terminator of blk0", func() {
		b.AllocateInstruction().AsIconst32(1).Insert(b)
	})
}

func TestBuilder_stackSlotOutsideEntry(t *testing.T) {
	_, b := newTestBuilder(t, nil, nil)
	next := b.AllocateBasicBlock()
	b.AllocateInstruction().AsJump(next).Insert(b)
	b.SetCurrentBlock(next)
	require.Panics(t, func() {
		b.AllocateInstruction().AsStackSlot(TypeI32).Insert(b)
	})
}

func TestBuilder_phiAndEdges(t *testing.T) {
	_, b := newTestBuilder(t, []Type{TypeI32}, []Type{TypeI32})
	then, els, merge := b.AllocateBasicBlock(), b.AllocateBasicBlock(), b.AllocateBasicBlock()

	zero := b.AllocateInstruction().AsIconst32(0).Insert(b).Return()
	cond := b.AllocateInstruction().AsIcmp(b.Params()[0], zero, IntegerCmpCondEqual).Insert(b).Return()
	b.AllocateInstruction().AsBrif(cond, then, els).Insert(b)
	phi := b.AllocatePhi(merge, TypeI32)

	b.SetCurrentBlock(then)
	one := b.AllocateInstruction().AsIconst32(1).Insert(b).Return()
	phi.AddIncoming(one, then)
	b.AllocateInstruction().AsJump(merge).Insert(b)

	b.SetCurrentBlock(els)
	two := b.AllocateInstruction().AsIconst32(2).Insert(b).Return()
	phi.AddIncoming(two, els)
	// Adding the same edge again is a no-op.
	phi.AddIncoming(two, els)
	b.AllocateInstruction().AsJump(merge).Insert(b)

	b.SetCurrentBlock(merge)
	b.AllocateInstruction().AsReturn(phi.Return()).Insert(b)

	require.Equal(t, 2, phi.IncomingCount())
	require.Equal(t, 2, merge.Preds())
	require.Equal(t, []*Instruction{phi}, merge.Phis())
	v, ok := phi.IncomingFrom(els)
	require.True(t, ok)
	require.Equal(t, two, v)

	fn := b.Finish()
	require.NoError(t, fn.Verify())
	require.Equal(t, `function ? sig0: i32_i32
params: v0:i32
blk0:
	v1:i32 = Iconst_32 0x0
	v2:i1 = Icmp eq, v0, v1
	Brif v2, blk1, blk2
blk1: <-- (blk0)
	v4:i32 = Iconst_32 0x1
	Jump blk3
blk2: <-- (blk0)
	v5:i32 = Iconst_32 0x2
	Jump blk3
blk3: <-- (blk1,blk2)
	v3:i32 = Phi [v4, blk1], [v5, blk2]
	Return v3
`, fn.Format())
}

func TestBuilder_AddIncoming_conflict(t *testing.T) {
	_, b := newTestBuilder(t, nil, []Type{TypeI32})
	merge := b.AllocateBasicBlock()
	phi := b.AllocatePhi(merge, TypeI32)
	x := b.AllocateInstruction().AsIconst32(1).Insert(b).Return()
	y := b.AllocateInstruction().AsIconst32(2).Insert(b).Return()
	phi.AddIncoming(x, b.EntryBlock())
	require.Panics(t, func() { phi.AddIncoming(y, b.EntryBlock()) })
}

func TestBuilder_MoveBlockAfter(t *testing.T) {
	_, b := newTestBuilder(t, nil, nil)
	blk1, blk2, blk3 := b.AllocateBasicBlock(), b.AllocateBasicBlock(), b.AllocateBasicBlock()
	b.MoveBlockAfter(blk3, b.EntryBlock())

	b.AllocateInstruction().AsJump(blk3).Insert(b)
	for _, blk := range []BasicBlock{blk3, blk1} {
		b.SetCurrentBlock(blk)
		b.AllocateInstruction().AsJump(blk2).Insert(b)
	}
	b.SetCurrentBlock(blk2)
	b.AllocateInstruction().AsReturn(ValueInvalid).Insert(b)

	b.RunPasses()
	fn := b.Finish()
	var names []string
	for _, blk := range fn.Blocks() {
		names = append(names, blk.Name())
	}
	// blk1 is unreachable.
	require.Equal(t, []string{"blk0", "blk3", "blk2"}, names)
}

func TestBuilder_RemoveInstruction(t *testing.T) {
	_, b := newTestBuilder(t, nil, []Type{TypeI32})
	merge := b.AllocateBasicBlock()
	phi := b.AllocatePhi(merge, TypeI32)
	b.AllocateInstruction().AsUnreachable().Insert(b)

	b.SetCurrentBlock(merge)
	b.RemoveInstruction(phi)
	require.Nil(t, merge.Root())
	require.Panics(t, func() { b.RemoveInstruction(phi) })
}

func TestInstruction_conversions(t *testing.T) {
	_, b := newTestBuilder(t, []Type{TypeI32, TypeI64}, nil)
	x, y := b.Params()[0], b.Params()[1]

	require.Equal(t, TypeI64, b.AllocateInstruction().AsUextend(x, TypeI64).Insert(b).Return().Type())
	require.Equal(t, TypeI32, b.AllocateInstruction().AsIreduce(y, TypeI32).Insert(b).Return().Type())
	require.Equal(t, TypeF64, b.AllocateInstruction().AsBitcast(y, TypeF64).Insert(b).Return().Type())
	p := b.AllocateInstruction().AsIntToPtr(y).Insert(b).Return()
	require.Equal(t, TypePtr, p.Type())

	for _, tc := range []func(){
		func() { b.AllocateInstruction().AsUextend(y, TypeI32) },
		func() { b.AllocateInstruction().AsIreduce(x, TypeI64) },
		func() { b.AllocateInstruction().AsBitcast(x, TypeF64) },
		func() { b.AllocateInstruction().AsBitcast(y, TypePtr) },
		func() { b.AllocateInstruction().AsIadd(x, y) },
		func() { b.AllocateInstruction().AsGep(y, y) },
	} {
		require.Panics(t, tc)
	}
}

func TestInstruction_memoryAccess(t *testing.T) {
	_, b := newTestBuilder(t, []Type{TypePtr}, nil)
	p := b.Params()[0]
	load := b.AllocateInstruction().AsLoad(p, TypeI64, MemoryAccess{Size: 2, Signed: true, AlignLog2: 1, Volatile: true}).Insert(b)
	ptr, typ, access := load.LoadData()
	require.Equal(t, p, ptr)
	require.Equal(t, TypeI64, typ)
	require.Equal(t, MemoryAccess{Size: 2, Signed: true, AlignLog2: 1, Volatile: true}, access)
	require.Equal(t, "v1:i64 = Load v0, size=2 align=2 signed volatile", load.Format(b))

	require.Panics(t, func() { b.AllocateInstruction().AsLoad(p, TypeI32, MemoryAccess{Size: 8}) })
}

func TestInstruction_Call(t *testing.T) {
	m, b := newTestBuilder(t, []Type{TypePtr}, nil)
	sig := m.DeclareSignature([]Type{TypePtr, TypeI32}, []Type{TypeI32}, CallConvC)
	ref := m.DeclareFunction("grow", sig, LinkageIntrinsic)
	arg := b.AllocateInstruction().AsIconst32(1).Insert(b).Return()

	call := b.AllocateInstruction().AsCall(ref, sig, []Value{b.Params()[0], arg}).Insert(b)
	require.Equal(t, TypeI32, call.Return().Type())
	require.Equal(t, "v2:i32 = Call f0:sig1, v0, v1", call.Format(b))

	require.Panics(t, func() { b.AllocateInstruction().AsCall(ref, sig, []Value{arg}) })
	require.Panics(t, func() { b.AllocateInstruction().AsCall(ref, sig, []Value{arg, arg}) })
}

func TestInstruction_Symbol(t *testing.T) {
	m, b := newTestBuilder(t, nil, nil)
	sym := m.DeclareImportedConstant("memoryOffset0")
	instr := b.AllocateInstruction().AsSymbol(sym).Insert(b)
	require.Equal(t, "v0:i64 = Symbol s0(memoryOffset0)", instr.Format(b))
}

func TestValue(t *testing.T) {
	v := Value(5).setType(TypeF32)
	require.Equal(t, TypeF32, v.Type())
	require.Equal(t, ValueID(5), v.ID())
	require.True(t, v.Valid())
	require.False(t, ValueInvalid.Valid())
	require.Equal(t, "v5", v.String())
}
