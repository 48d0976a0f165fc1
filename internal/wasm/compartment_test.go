package wasm

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/nianjia-runtime/nrt/internal/abi"
)

func newTestCompartment(t *testing.T) *Compartment {
	logger, _ := test.NewNullLogger()
	c, err := NewCompartment(logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestNewCompartment(t *testing.T) {
	requireSupportedOS(t)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c, err := NewCompartment(logger)
	require.NoError(t, err)
	defer c.Close()

	require.Zero(t, uint64(c.Base())&(abi.CompartmentAlignment-1))
	require.Equal(t, abi.CompartmentMagic, loadUint64(c.Base()+abi.CompartmentMagicOffset))
	require.Equal(t, c.ID, loadUint64(c.Base()+abi.CompartmentIDOffset))
	require.Equal(t, "compartment created", hook.LastEntry().Message)
	require.Equal(t, c.ID, hook.LastEntry().Data["compartment"])
}

func TestCompartment_contextAddressing(t *testing.T) {
	requireSupportedOS(t)
	c := newTestCompartment(t)

	var contexts []*Context
	for i := 0; i < 8; i++ {
		ctx, err := c.NewContext()
		require.NoError(t, err)
		contexts = append(contexts, ctx)
	}

	for _, ctx := range contexts {
		require.Equal(t, c.Base(), abi.CompartmentBase(ctx.Pointer()))
		found, ok := CompartmentOf(ctx.Pointer())
		require.True(t, ok)
		require.Same(t, c, found)

		byPtr, ok := ContextOf(ctx.Pointer())
		require.True(t, ok)
		require.Same(t, ctx, byPtr)
		require.Equal(t, uint64(ctx.ID), loadUint64(ctx.Pointer()+abi.ContextIDOffset))
	}
	require.Equal(t, abi.CompartmentBase(contexts[0].Pointer()), abi.CompartmentBase(contexts[7].Pointer()))

	_, ok := ContextOf(contexts[0].Pointer() + 8)
	require.False(t, ok)
}

func TestCompartment_contextReuse(t *testing.T) {
	requireSupportedOS(t)
	c := newTestCompartment(t)

	ctx, err := c.NewContext()
	require.NoError(t, err)
	ctx.SetGlobal(3, true, 7, 0)
	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())

	_, ok := ContextOf(ctx.Pointer())
	require.False(t, ok)

	reused, err := c.NewContext()
	require.NoError(t, err)
	require.Equal(t, ctx.Pointer(), reused.Pointer())
	lo, hi := reused.Global(3, true)
	require.Zero(t, lo, "released context pages must be zeroed")
	require.Zero(t, hi)
}

func TestCompartment_full(t *testing.T) {
	requireSupportedOS(t)
	c := newTestCompartment(t)

	for i := 0; i < abi.MaxContexts; i++ {
		_, err := c.NewContext()
		require.NoError(t, err)
	}
	_, err := c.NewContext()
	require.ErrorIs(t, err, ErrCompartmentFull)
}

func TestContext_globals(t *testing.T) {
	requireSupportedOS(t)
	c := newTestCompartment(t)
	ctx, err := c.NewContext()
	require.NoError(t, err)

	ctx.SetGlobal(0, true, 1, 2)
	ctx.SetGlobal(0, false, 3, 4)
	lo, hi := ctx.Global(0, true)
	require.Equal(t, []uint64{1, 2}, []uint64{lo, hi})
	lo, hi = ctx.Global(0, false)
	require.Equal(t, []uint64{3, 4}, []uint64{lo, hi})

	require.Equal(t, ctx.Pointer()+abi.MutableGlobalsOffset, ctx.GlobalAddress(0, true))
	require.Equal(t, ctx.Pointer()+abi.ImmutableGlobalsOffset+abi.GlobalSlotSize, ctx.GlobalAddress(1, false))
	require.PanicsWithValue(t, "BUG: global slot 1024 out of range", func() { ctx.GlobalAddress(abi.MaxGlobals, true) })
}

func TestCompartment_memoryRecords(t *testing.T) {
	requireSupportedOS(t)
	c := newTestCompartment(t)

	m, err := NewMemoryInstance(&MemoryType{Min: 1, Max: uint32Ptr(3)}, MemoryLimitPages)
	require.NoError(t, err)
	defer m.Close()

	id, err := c.AddMemory(m)
	require.NoError(t, err)
	again, err := c.AddMemory(m)
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Same(t, m, c.Memory(id))

	record := c.Base() + uintptr(abi.MemoryRecordOffset(id))
	require.Equal(t, uint64(m.Base()), loadUint64(record+abi.MemoryRecordBaseOffset))
	require.Equal(t, uint64(MemoryPageSize), loadUint64(record+abi.MemoryRecordLengthOffset))

	_, err = m.Grow(2)
	require.NoError(t, err)
	require.Equal(t, uint64(3*MemoryPageSize), loadUint64(record+abi.MemoryRecordLengthOffset))

	c.RemoveMemory(id)
	require.Nil(t, c.Memory(id))
	require.Zero(t, loadUint64(record+abi.MemoryRecordBaseOffset))
}

func TestCompartment_Close(t *testing.T) {
	requireSupportedOS(t)

	c, err := NewCompartment(nil)
	require.NoError(t, err)
	ctx, err := c.NewContext()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, ok := CompartmentOf(ctx.Pointer())
	require.False(t, ok)
	_, err = c.NewContext()
	require.ErrorIs(t, err, ErrClosed)
}
