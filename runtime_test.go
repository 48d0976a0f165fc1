package nrt

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nianjia-runtime/nrt/api"
	"github.com/nianjia-runtime/nrt/internal/backend"
	"github.com/nianjia-runtime/nrt/internal/frontend"
	"github.com/nianjia-runtime/nrt/internal/logging"
	"github.com/nianjia-runtime/nrt/internal/testing/binaryencoding"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

var (
	i32      = wasm.ValueTypeI32
	i64      = wasm.ValueTypeI64
	v_v      = &wasm.FunctionType{}
	v_i32    = &wasm.FunctionType{Results: []wasm.ValueType{i32}}
	v_i64    = &wasm.FunctionType{Results: []wasm.ValueType{i64}}
	i32_i32  = &wasm.FunctionType{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}
	i32i32_v = &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}}
	i64_i64  = &wasm.FunctionType{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i64}}
)

func maxPages(n uint32) *uint32 {
	return &n
}

func i32Const(v byte) *wasm.ConstantExpression {
	return &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{v}}
}

// mathModule exports add, fac and trap.
func mathModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
			i64_i64,
			v_v,
		},
		FunctionSection: []wasm.Index{0, 1, 2},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			{LocalTypes: []wasm.ValueType{i64}, Body: []byte{
				wasm.OpcodeI64Const, 1, wasm.OpcodeLocalSet, 1,
				wasm.OpcodeBlock, 0x40,
				wasm.OpcodeLoop, 0x40,
				wasm.OpcodeLocalGet, 0, wasm.OpcodeI64Eqz, wasm.OpcodeBrIf, 1,
				wasm.OpcodeLocalGet, 1, wasm.OpcodeLocalGet, 0, wasm.OpcodeI64Mul, wasm.OpcodeLocalSet, 1,
				wasm.OpcodeLocalGet, 0, wasm.OpcodeI64Const, 1, wasm.OpcodeI64Sub, wasm.OpcodeLocalSet, 0,
				wasm.OpcodeBr, 0,
				wasm.OpcodeEnd,
				wasm.OpcodeEnd,
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeEnd,
			}},
			{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "add", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "fac", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "trap", Index: 2},
		},
	}
}

// memoryModule has one page of memory growing to two, "hi" at offset 8, and exports the memory with
// accessors.
func memoryModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32, i32i32_v, v_i32},
		FunctionSection: []wasm.Index{0, 1, 0, 2},
		MemorySection:   []*wasm.MemoryType{{Min: 1, Max: maxPages(2)}},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Load8U, 0, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Store8, 0, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeMemoryGrow, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeMemorySize, 0, wasm.OpcodeEnd}},
		},
		DataSection: []*wasm.DataSegment{{OffsetExpression: i32Const(8), Init: []byte("hi")}},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "load", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "store", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "grow", Index: 2},
			{Type: wasm.ExternTypeFunc, Name: "size", Index: 3},
			{Type: wasm.ExternTypeMemory, Name: "memory", Index: 0},
		},
	}
}

func compile(t *testing.T, r *Runtime, m *wasm.Module, name string) *CompiledModule {
	t.Helper()
	cm, err := r.compileModule(testCtx, m, name)
	require.NoError(t, err)
	return cm
}

func instantiate(t *testing.T, r *Runtime, m *wasm.Module, name string) *Instance {
	t.Helper()
	inst, err := r.InstantiateModule(testCtx, compile(t, r, m, name), nil)
	require.NoError(t, err)
	return inst
}

func TestRuntime_Call(t *testing.T) {
	requireSupportedOS(t)
	for _, arch := range []backend.Arch{backend.ArchPortable, backend.ArchAMD64} {
		arch := arch
		t.Run(string(arch), func(t *testing.T) {
			r := NewRuntime(NewRuntimeConfig().WithBackend(arch).WithCompilationWorkers(2))
			defer r.Close(testCtx)

			inst := instantiate(t, r, mathModule(), "math")

			results, err := inst.Call(testCtx, "add", api.EncodeI32(-3), 5)
			require.NoError(t, err)
			require.Equal(t, []uint64{2}, results)

			results, err = inst.Call(testCtx, "fac", 5)
			require.NoError(t, err)
			require.Equal(t, []uint64{120}, results)

			results, err = inst.Call(testCtx, "fac", 20)
			require.NoError(t, err)
			require.Equal(t, []uint64{2432902008176640000}, results)

			_, err = inst.Call(testCtx, "trap")
			require.ErrorIs(t, err, wasm.ErrRuntimeUnreachable)

			_, err = inst.Call(testCtx, "sub")
			require.EqualError(t, err, `"sub" is not exported in module "math"`)
		})
	}
}

func TestRuntime_CompileModule_backends(t *testing.T) {
	r := NewRuntime(NewRuntimeConfig().WithBackend(backend.ArchAMD64))
	defer r.Close(testCtx)

	cm := compile(t, r, mathModule(), "math")
	require.Equal(t, backend.ArchAMD64, cm.Backend())
	// trap calls an intrinsic, which the native backend leaves to the portable one.
	require.Equal(t, []string{"functionDef2"}, cm.Fallbacks())
	require.Greater(t, cm.TextSize(), 0)
	require.Contains(t, cm.Imports(), "nrt.trap")
	require.Contains(t, cm.FormatSSA(), "functionDef1")

	r = NewRuntime(nil)
	defer r.Close(testCtx)
	cm = compile(t, r, mathModule(), "math")
	require.Equal(t, backend.ArchPortable, cm.Backend())
	require.Empty(t, cm.Fallbacks())
	require.Zero(t, cm.TextSize())
	require.Equal(t, []FunctionDefinition{
		{Name: "add", ParamTypes: []api.ValueType{i32, i32}, ResultTypes: []api.ValueType{i32}},
		{Name: "fac", ParamTypes: []api.ValueType{i64}, ResultTypes: []api.ValueType{i64}},
		{Name: "trap"},
	}, cm.ExportedFunctions())
}

func TestRuntime_CompileModule_binary(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	m := mathModule()
	m.NameSection = &wasm.NameSection{ModuleName: "math"}
	cm, err := r.CompileModule(testCtx, binaryencoding.EncodeModule(m))
	require.NoError(t, err)
	require.Equal(t, "math", cm.Name())

	inst, err := r.InstantiateModule(testCtx, cm, nil)
	require.NoError(t, err)
	require.Equal(t, "math", inst.Name())
	results, err := inst.Call(testCtx, "fac", 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{3628800}, results)

	_, err = r.CompileModule(testCtx, []byte("wasm"))
	require.ErrorIs(t, err, wasm.ErrInvalidModule)
}

func TestRuntime_CompileModule_invalid(t *testing.T) {
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	t.Run("validation", func(t *testing.T) {
		m := mathModule()
		m.FunctionSection[0] = 9
		_, err := r.compileModule(testCtx, m, "")
		require.ErrorIs(t, err, wasm.ErrInvalidModule)
	})
	t.Run("memory over the limit", func(t *testing.T) {
		r := NewRuntime(NewRuntimeConfig().WithMemoryLimitPages(1))
		_, err := r.compileModule(testCtx, memoryModule(), "")
		require.ErrorIs(t, err, wasm.ErrInvalidModule)
	})
	t.Run("more globals than context slots", func(t *testing.T) {
		m := &wasm.Module{}
		for i := 0; i < 1025; i++ {
			m.GlobalSection = append(m.GlobalSection, &wasm.Global{Type: &wasm.GlobalType{ValType: i32}, Init: i32Const(1)})
		}
		_, err := r.compileModule(testCtx, m, "")
		require.ErrorIs(t, err, wasm.ErrInvalidModule)
		require.Contains(t, err.Error(), "1025 globals exceed the limit of 1024")
	})
	t.Run("table too large", func(t *testing.T) {
		m := &wasm.Module{TableSection: []*wasm.TableType{{ElemType: wasm.ValueTypeAnyfunc, Limit: wasm.LimitsType{Min: 0xffffffff}}}}
		_, err := r.compileModule(testCtx, m, "")
		require.ErrorIs(t, err, wasm.ErrInvalidModule)
	})
	t.Run("unsupported instruction", func(t *testing.T) {
		m := &wasm.Module{
			TypeSection:     []*wasm.FunctionType{i32_i32},
			FunctionSection: []wasm.Index{0},
			CodeSection: []*wasm.Code{{Body: []byte{
				wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0, 0x6d /* i32.div_s */, wasm.OpcodeEnd,
			}}},
		}
		_, err := r.compileModule(testCtx, m, "")
		require.ErrorIs(t, err, wasm.ErrInvalidModule)
		require.ErrorIs(t, err, frontend.ErrUnsupportedInstruction)
	})
}

func TestInstance_memory(t *testing.T) {
	requireSupportedOS(t)
	for _, boundsChecks := range []bool{true, false} {
		boundsChecks := boundsChecks
		t.Run(map[bool]string{true: "bounds checks", false: "guard pages"}[boundsChecks], func(t *testing.T) {
			r := NewRuntime(NewRuntimeConfig().WithBoundsChecks(boundsChecks))
			defer r.Close(testCtx)
			inst := instantiate(t, r, memoryModule(), "mem")

			results, err := inst.Call(testCtx, "load", 8)
			require.NoError(t, err)
			require.Equal(t, []uint64{'h'}, results)

			_, err = inst.Call(testCtx, "store", 100, 0x1ff)
			require.NoError(t, err)
			mem := inst.ExportedMemory("memory")
			b, ok := mem.Read(100, 1)
			require.True(t, ok)
			require.Equal(t, []byte{0xff}, b)

			_, err = inst.Call(testCtx, "load", uint64(wasm.MemoryPageSize))
			require.ErrorIs(t, err, wasm.ErrRuntimeOutOfBoundsMemoryAccess)

			results, err = inst.Call(testCtx, "grow", 1)
			require.NoError(t, err)
			require.Equal(t, []uint64{1}, results)
			results, err = inst.Call(testCtx, "size")
			require.NoError(t, err)
			require.Equal(t, []uint64{2}, results)
			require.Equal(t, uint32(2), mem.Pages())

			// Past the maximum, memory.grow returns -1.
			results, err = inst.Call(testCtx, "grow", 1)
			require.NoError(t, err)
			require.Equal(t, []uint64{0xffffffff}, results)

			results, err = inst.Call(testCtx, "load", uint64(wasm.MemoryPageSize))
			require.NoError(t, err)
			require.Equal(t, []uint64{0}, results)
		})
	}
}

func TestInstance_dataOutOfBounds(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	m := memoryModule()
	m.DataSection = append(m.DataSection, &wasm.DataSegment{
		OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0xff, 0xff, 0x03}}, // 65535
		Init:             []byte("ab"),
	})
	_, err := r.InstantiateModule(testCtx, compile(t, r, m, "mem"), nil)
	require.ErrorIs(t, err, wasm.ErrOutOfBounds)

	// The failed instance released its name.
	inst, err := r.InstantiateModule(testCtx, compile(t, r, memoryModule(), "mem"), nil)
	require.NoError(t, err)
	require.NoError(t, inst.Close(testCtx))
}

func TestInstance_globals(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	_, err := r.NewHostModuleBuilder("env").ExportGlobal("base", i32, false, 40).Instantiate(testCtx)
	require.NoError(t, err)

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{v_i32, v_i64},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeGlobal, Module: "env", Name: "base", DescGlobal: &wasm.GlobalType{ValType: i32}},
		},
		GlobalSection: []*wasm.Global{
			{Type: &wasm.GlobalType{ValType: i32, Mutable: true}, Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeGlobalGet, Data: []byte{0}}},
			{Type: &wasm.GlobalType{ValType: i64}, Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const, Data: []byte{5}}},
		},
		FunctionSection: []wasm.Index{0, 1},
		CodeSection: []*wasm.Code{
			{Body: []byte{
				wasm.OpcodeGlobalGet, 1, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeGlobalSet, 1,
				wasm.OpcodeGlobalGet, 1, wasm.OpcodeEnd,
			}},
			{Body: []byte{wasm.OpcodeGlobalGet, 2, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "bump", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "five", Index: 1},
			{Type: wasm.ExternTypeGlobal, Name: "counter", Index: 1},
			{Type: wasm.ExternTypeGlobal, Name: "base", Index: 0},
		},
	}
	inst := instantiate(t, r, m, "globals")

	for _, expected := range []uint64{41, 42} {
		results, err := inst.Call(testCtx, "bump")
		require.NoError(t, err)
		require.Equal(t, []uint64{expected}, results)
	}
	results, err := inst.Call(testCtx, "five")
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)

	v, _, ok := inst.ExportedGlobal("counter")
	require.True(t, ok)
	require.Equal(t, uint64(42), v)
	v, _, ok = inst.ExportedGlobal("base")
	require.True(t, ok)
	require.Equal(t, uint64(40), v)
	_, _, ok = inst.ExportedGlobal("bump")
	require.False(t, ok)
}

func TestInstance_importedMutableGlobalIsCopied(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	h, err := r.NewHostModuleBuilder("env").ExportGlobal("g", i32, true, 5).Instantiate(testCtx)
	require.NoError(t, err)

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{v_i32, i32_i32},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &wasm.GlobalType{ValType: i32, Mutable: true}},
		},
		FunctionSection: []wasm.Index{0, 1},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeGlobalGet, 0, wasm.OpcodeEnd}},
			{Body: []byte{
				wasm.OpcodeLocalGet, 0, wasm.OpcodeGlobalSet, 0,
				wasm.OpcodeGlobalGet, 0, wasm.OpcodeEnd,
			}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "get", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "set", Index: 1},
		},
	}
	inst := instantiate(t, r, m, "importer")

	results, err := inst.Call(testCtx, "get")
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)

	// Writes by the importer stay in its own context.
	results, err = inst.Call(testCtx, "set", 9)
	require.NoError(t, err)
	require.Equal(t, []uint64{9}, results)
	require.Equal(t, uint64(5), h.globals["g"].Val)

	// Later writes by the exporter are not seen.
	h.globals["g"].Val = 7
	results, err = inst.Call(testCtx, "get")
	require.NoError(t, err)
	require.Equal(t, []uint64{9}, results)

	// A new importer starts from the exporter's current value.
	other := instantiate(t, r, m, "importer2")
	results, err = other.Call(testCtx, "get")
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, results)
}

func TestInstance_hostFunctions(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	var calls int
	double := func(_ context.Context, params []uint64) ([]uint64, error) {
		calls++
		if params[0] == 13 {
			return nil, errors.New("unlucky")
		}
		return []uint64{params[0] * 2}, nil
	}
	_, err := r.NewHostModuleBuilder("env").
		ExportFunction("double", double, []api.ValueType{i32}, []api.ValueType{i32}).
		Instantiate(testCtx)
	require.NoError(t, err)

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{i32_i32},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeFunc, Module: "env", Name: "double", DescFunc: 0},
		},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeCall, 0, wasm.OpcodeCall, 0, wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "quad", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "double", Index: 0},
		},
	}
	inst := instantiate(t, r, m, "quad")

	results, err := inst.Call(testCtx, "quad", 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{12}, results)
	require.Equal(t, 2, calls)

	// Re-exported imports call the host directly.
	results, err = inst.Call(testCtx, "double", 4)
	require.NoError(t, err)
	require.Equal(t, []uint64{8}, results)

	_, err = inst.Call(testCtx, "quad", 13)
	require.EqualError(t, err, "unlucky")
}

func TestInstance_importFromInstance(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	a := instantiate(t, r, memoryModule(), "a")
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{i32i32_v, i32_i32},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeMemory, Module: "a", Name: "memory", DescMem: &wasm.MemoryType{Min: 1}},
			{Type: wasm.ExternTypeFunc, Module: "a", Name: "load", DescFunc: 1},
		},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Store8, 0, 0, wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "put", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "get", Index: 0},
		},
	}
	b := instantiate(t, r, m, "b")
	require.Equal(t, a.compartment, b.compartment)

	_, err := b.Call(testCtx, "put", 3, 99)
	require.NoError(t, err)
	results, err := a.Call(testCtx, "load", 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{99}, results)

	// b keeps the memory alive after a is closed, but can no longer call into it.
	require.NoError(t, a.Close(testCtx))
	_, err = b.Call(testCtx, "put", 4, 1)
	require.NoError(t, err)
	_, err = b.Call(testCtx, "get", 3)
	require.ErrorIs(t, err, wasm.ErrClosed)
	require.NoError(t, b.Close(testCtx))
}

func TestInstance_start(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	start := wasm.Index(0)
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_v},
		GlobalSection:   []*wasm.Global{{Type: &wasm.GlobalType{ValType: i32, Mutable: true}, Init: i32Const(0)}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeI32Const, 7, wasm.OpcodeGlobalSet, 0, wasm.OpcodeEnd}}},
		StartSection:    &start,
		ExportSection:   []*wasm.Export{{Type: wasm.ExternTypeGlobal, Name: "g", Index: 0}},
	}
	inst := instantiate(t, r, m, "")
	v, _, ok := inst.ExportedGlobal("g")
	require.True(t, ok)
	require.Equal(t, uint64(7), v)

	m.CodeSection[0].Body = []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}
	_, err := r.InstantiateModule(testCtx, compile(t, r, m, ""), nil)
	require.ErrorIs(t, err, wasm.ErrRuntimeUnreachable)
}

func TestRuntime_InstantiateModule_releasesOnFailure(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	env, err := r.NewHostModuleBuilder("env").ExportMemory("memory", 1).Instantiate(testCtx)
	require.NoError(t, err)
	hostMem := env.memories["memory"]

	start := wasm.Index(0)
	withStart := func(imported bool, body ...byte) *wasm.Module {
		m := &wasm.Module{
			TypeSection:     []*wasm.FunctionType{v_v},
			FunctionSection: []wasm.Index{0},
			CodeSection:     []*wasm.Code{{Body: append(body, wasm.OpcodeEnd)}},
			StartSection:    &start,
		}
		if imported {
			m.ImportSection = []*wasm.Import{{Type: wasm.ExternTypeMemory, Module: "env", Name: "memory", DescMem: &wasm.MemoryType{Min: 1}}}
		} else {
			m.MemorySection = []*wasm.MemoryType{{Min: 1, Max: maxPages(1)}}
		}
		return m
	}
	dataOutOfBounds := memoryModule()
	dataOutOfBounds.DataSection = append(dataOutOfBounds.DataSection, &wasm.DataSegment{
		OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0xff, 0xff, 0x03}}, // 65535
		Init:             []byte("ab"),
	})
	// Stores 1 at 65536, one past the single page.
	storePastEnd := []byte{
		wasm.OpcodeI32Const, 0x80, 0x80, 0x04,
		wasm.OpcodeI32Const, 1,
		wasm.OpcodeI32Store, 2, 0,
	}

	tests := []struct {
		name        string
		module      *wasm.Module
		expectedErr error
	}{
		{name: "data out of bounds", module: dataOutOfBounds, expectedErr: wasm.ErrOutOfBounds},
		{name: "start unreachable", module: withStart(false, wasm.OpcodeUnreachable), expectedErr: wasm.ErrRuntimeUnreachable},
		{name: "start out of bounds", module: withStart(false, storePastEnd...), expectedErr: wasm.ErrRuntimeOutOfBoundsMemoryAccess},
		{name: "imported memory", module: withStart(true, wasm.OpcodeUnreachable), expectedErr: wasm.ErrRuntimeUnreachable},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			inst, err := r.InstantiateModule(testCtx, compile(t, r, tc.module, "failing"), nil)
			require.ErrorIs(t, err, tc.expectedErr)
			require.Nil(t, inst)

			r.mux.Lock()
			defer r.mux.Unlock()
			require.NotContains(t, r.modules, "failing")
			require.Empty(t, r.compartments)
			require.Equal(t, map[*wasm.MemoryInstance]int{hostMem: 1}, r.memoryRefs)
		})
	}
}

func TestRuntime_InstantiateModule_errors(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(nil)
	defer r.Close(testCtx)

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{i32_i32},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeFunc, Module: "env", Name: "double", DescFunc: 0},
			{Type: wasm.ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &wasm.GlobalType{ValType: i64}},
		},
	}
	cm := compile(t, r, m, "m")
	_, err := r.InstantiateModule(testCtx, cm, nil)
	require.ErrorIs(t, err, wasm.ErrLink)
	require.Contains(t, err.Error(), "env.double: unresolved func i32_i32")
	require.Contains(t, err.Error(), "env.g: unresolved global i64")

	_, err = r.NewHostModuleBuilder("env").
		ExportFunction("double", func(context.Context, []uint64) ([]uint64, error) { return nil, nil }, nil, nil).
		ExportGlobal("g", i64, false, 1).
		Instantiate(testCtx)
	require.NoError(t, err)
	_, err = r.InstantiateModule(testCtx, cm, nil)
	require.ErrorIs(t, err, wasm.ErrLink)
	require.Contains(t, err.Error(), "env.double: signature mismatch: i32_i32 != v_v")

	_, err = r.NewHostModuleBuilder("env").Instantiate(testCtx)
	require.EqualError(t, err, "module[env] has already been instantiated")

	inst := instantiate(t, r, mathModule(), "math")
	_, err = r.InstantiateModule(testCtx, compile(t, r, mathModule(), "math"), nil)
	require.EqualError(t, err, "module[math] has already been instantiated")

	// A different name is fine.
	other, err := r.InstantiateModule(testCtx, compile(t, r, mathModule(), "math"), NewModuleConfig().WithName("math2"))
	require.NoError(t, err)
	require.Equal(t, "math2", other.Name())

	require.NoError(t, inst.Close(testCtx))
	require.NoError(t, inst.Close(testCtx))
	_, err = inst.Call(testCtx, "add", 1, 2)
	require.ErrorIs(t, err, wasm.ErrClosed)
}

func TestRuntime_compartments(t *testing.T) {
	requireSupportedOS(t)
	r := NewRuntime(NewRuntimeConfig().WithMaxContexts(1))
	defer r.Close(testCtx)

	a := instantiate(t, r, mathModule(), "a")
	b := instantiate(t, r, mathModule(), "b")
	require.NotEqual(t, a.compartment.ID, b.compartment.ID)
	require.Len(t, r.compartments, 2)

	require.NoError(t, a.Close(testCtx))
	require.Len(t, r.compartments, 1)

	results, err := b.Call(testCtx, "add", 1, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, results)

	require.NoError(t, r.Close(testCtx))
	_, err = r.InstantiateModule(testCtx, compile(t, r, mathModule(), "c"), nil)
	require.ErrorIs(t, err, wasm.ErrClosed)
}

func TestRuntime_typeIDs(t *testing.T) {
	r := NewRuntime(nil)
	a := r.typeID(&wasm.FunctionType{Params: []wasm.ValueType{i32}})
	b := r.typeID(&wasm.FunctionType{Params: []wasm.ValueType{i64}})
	require.Equal(t, uint64(1), a)
	require.Equal(t, uint64(2), b)
	require.Equal(t, a, r.typeID(&wasm.FunctionType{Params: []wasm.ValueType{i32}}))
}

func TestInstance_callLogging(t *testing.T) {
	requireSupportedOS(t)
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "debug")
	require.NoError(t, err)
	r := NewRuntime(NewRuntimeConfig().WithLogger(logger).WithLogScopes(logging.LogScopeCall))
	defer r.Close(testCtx)

	inst := instantiate(t, r, mathModule(), "math")
	_, err = inst.Call(testCtx, "add", api.EncodeI32(-1), 3)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `msg=call`)
	require.Contains(t, buf.String(), `function=add`)
	require.Contains(t, buf.String(), `params="-1,3"`)
	require.Contains(t, buf.String(), `results=2`)
}
