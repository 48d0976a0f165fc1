package wasm

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nianjia-runtime/nrt/internal/platform"
)

func requireSupportedOS(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skip()
	}
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip()
	}
}

func uint32Ptr(v uint32) *uint32 {
	return &v
}

func TestMemoryPageConsts(t *testing.T) {
	require.Equal(t, MemoryPageSize, uint32(1)<<MemoryPageSizeInBits)
	require.Equal(t, MemoryLimitPages, uint32(1<<16))
	require.Zero(t, uint64(MemoryPageSize)%platform.PageSize())
}

func TestPagesToUnitOfBytes(t *testing.T) {
	for _, tc := range []struct {
		pages    uint32
		expected string
	}{
		{pages: 0, expected: "0 Ki"},
		{pages: 1, expected: "64 Ki"},
		{pages: 16, expected: "1 Mi"},
		{pages: MemoryLimitPages, expected: "4 Gi"},
	} {
		require.Equal(t, tc.expected, PagesToUnitOfBytes(tc.pages))
	}
}

func TestNewMemoryInstance(t *testing.T) {
	requireSupportedOS(t)

	m, err := NewMemoryInstance(&MemoryType{Min: 1, Max: uint32Ptr(2)}, MemoryLimitPages)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, uint32(1), m.Pages())
	require.Equal(t, uint32(2), m.Max)
	require.Equal(t, uint64(MemoryPageSize), m.Size())
	require.NotZero(t, m.Base())

	// Committed pages are zeroed and writable.
	require.True(t, m.WriteUint32Le(MemoryPageSize-4, 0xdeadbeef))
	v, ok := m.ReadUint32Le(MemoryPageSize - 4)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), v)
	_, ok = m.ReadUint32Le(MemoryPageSize - 3)
	require.False(t, ok)
}

func TestNewMemoryInstance_defaultMax(t *testing.T) {
	requireSupportedOS(t)

	m, err := NewMemoryInstance(&MemoryType{Min: 0}, 3)
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, uint32(3), m.Max)
	require.Equal(t, uint32(0), m.Pages())
	require.Nil(t, m.Buffer)
}

func TestNewMemoryInstance_minOverMax(t *testing.T) {
	_, err := NewMemoryInstance(&MemoryType{Min: 4}, 3)
	require.ErrorIs(t, err, ErrMemoryReserve)
}

func TestMemoryInstance_Grow(t *testing.T) {
	requireSupportedOS(t)

	m, err := NewMemoryInstance(&MemoryType{Min: 1, Max: uint32Ptr(4)}, MemoryLimitPages)
	require.NoError(t, err)
	defer m.Close()
	base := m.Base()

	prev, err := m.Grow(2)
	require.NoError(t, err)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, uint32(3), m.Pages())
	require.Equal(t, base, m.Base(), "growth must not move the memory")

	// Zero page grow is well-defined, should return the current page correctly.
	prev, err = m.Grow(0)
	require.NoError(t, err)
	require.Equal(t, uint32(3), prev)

	// Newly committed pages are usable.
	require.True(t, m.WriteUint64Le(3*MemoryPageSize-8, 42))

	_, err = m.Grow(2)
	require.ErrorIs(t, err, ErrMemoryGrow)
	require.Equal(t, uint32(3), m.Pages(), "failed growth must not change the size")

	prev, err = m.Grow(1)
	require.NoError(t, err)
	require.Equal(t, uint32(3), prev)
	require.LessOrEqual(t, m.Pages(), m.Max)

	_, err = m.Grow(1)
	require.ErrorIs(t, err, ErrMemoryGrow)
}

func TestMemoryInstance_CopyInto(t *testing.T) {
	requireSupportedOS(t)

	m, err := NewMemoryInstance(&MemoryType{Min: 1, Max: uint32Ptr(2)}, MemoryLimitPages)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.CopyInto(0, []byte{1, 2, 3}))
	require.Equal(t, []byte{1, 2, 3}, m.Buffer[:3])

	// Straddles the maximum size.
	err = m.CopyInto(uint64(MemoryPageSize)*2-1, []byte{1, 2})
	require.ErrorIs(t, err, ErrOutOfBounds)
	require.Contains(t, err.Error(), "exceeds max size")

	// Within the maximum size, but not committed yet.
	err = m.CopyInto(uint64(MemoryPageSize), []byte{1})
	require.ErrorIs(t, err, ErrOutOfBounds)
	require.Contains(t, err.Error(), "exceeds committed size")

	_, err = m.Grow(1)
	require.NoError(t, err)
	require.NoError(t, m.CopyInto(uint64(MemoryPageSize)*2-2, []byte{1, 2}))
}

func TestMemoryInstance_Close(t *testing.T) {
	requireSupportedOS(t)

	m, err := NewMemoryInstance(&MemoryType{Min: 1}, 2)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "teardown must be idempotent")
	require.Nil(t, m.Buffer)

	_, err = m.Grow(1)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, m.CopyInto(0, []byte{1}), ErrClosed)
}
