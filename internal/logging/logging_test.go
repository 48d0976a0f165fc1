package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// TestLogScopes tests the bitset works as expected
func TestLogScopes(t *testing.T) {
	tests := []struct {
		name   string
		scopes LogScopes
	}{
		{
			name:   "one is the smallest flag",
			scopes: 1,
		},
		{
			name:   "63 is the largest feature flag", // because uint64
			scopes: 1 << 63,
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			f := LogScopes(0)

			// Defaults to false
			require.False(t, f.IsEnabled(tc.scopes))

			// Set true makes it true
			f = f | tc.scopes
			require.True(t, f.IsEnabled(tc.scopes))

			// Set false makes it false again
			f = f ^ tc.scopes
			require.False(t, f.IsEnabled(tc.scopes))
		})
	}
}

func TestLogScopes_String(t *testing.T) {
	tests := []struct {
		name     string
		scopes   LogScopes
		expected string
	}{
		{name: "none", scopes: LogScopeNone, expected: ""},
		{name: "any", scopes: LogScopeAll, expected: "all"},
		{name: "compile", scopes: LogScopeCompile, expected: "compile"},
		{name: "link", scopes: LogScopeLink, expected: "link"},
		{name: "memory", scopes: LogScopeMemory, expected: "memory"},
		{name: "call", scopes: LogScopeCall, expected: "call"},
		{name: "compile|call", scopes: LogScopeCompile | LogScopeCall, expected: "compile|call"},
		{name: "undefined", scopes: 1 << 14, expected: fmt.Sprintf("<unknown=%d>", 1<<14)},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.scopes.String())
		})
	}
}

func TestParseScopes(t *testing.T) {
	s, err := ParseScopes("compile, call")
	require.NoError(t, err)
	require.Equal(t, LogScopeCompile|LogScopeCall, s)

	s, err = ParseScopes("memory|all")
	require.NoError(t, err)
	require.Equal(t, LogScopeAll, s)

	s, err = ParseScopes("")
	require.NoError(t, err)
	require.Equal(t, LogScopeNone, s)

	_, err = ParseScopes("clock")
	require.EqualError(t, err, `unknown log scope "clock"`)
}

func TestFormatValues(t *testing.T) {
	types := []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64, wasm.ValueTypeV128}
	vals := []uint64{0xffffffff, 7, 0x3fc00000, 0x4004000000000000, 1, 2}
	require.Equal(t, "-1,7,1.5,2.5,00000000000000010000000000000002", FormatValues(types, vals))
	require.Equal(t, "-1,?", FormatValues(types[:2], vals[:1]))
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "warn")
	require.NoError(t, err)
	l.Info("dropped")
	l.WithField("function", "f").Warn("kept")
	require.Equal(t, "level=warning msg=kept function=f\n", buf.String())

	_, err = New(&buf, "loud")
	require.Error(t, err)

	Discard().Error("nothing")
}
