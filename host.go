package nrt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nianjia-runtime/nrt/api"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// HostModuleBuilder defines functions, globals and memories implemented by the host, for modules
// to import under a module name.
//
// Ex. Below defines "env.log" and a memory "env.memory" of one page:
//
//	env, err := r.NewHostModuleBuilder("env").
//		ExportFunction("log", logString, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
//		ExportMemory("memory", 1).
//		Instantiate(ctx)
type HostModuleBuilder struct {
	r         *Runtime
	name      string
	functions map[string]*wasm.HostFunction
	globals   map[string]*wasm.GlobalInstance
	memories  map[string]*wasm.MemoryType
}

// NewHostModuleBuilder returns a builder of a host module registered as name.
func (r *Runtime) NewHostModuleBuilder(name string) *HostModuleBuilder {
	return &HostModuleBuilder{
		r:         r,
		name:      name,
		functions: map[string]*wasm.HostFunction{},
		globals:   map[string]*wasm.GlobalInstance{},
		memories:  map[string]*wasm.MemoryType{},
	}
}

// ExportFunction adds a function. A later export of the same name replaces it.
func (b *HostModuleBuilder) ExportFunction(name string, fn api.GoFunction, params, results []api.ValueType) *HostModuleBuilder {
	b.functions[name] = &wasm.HostFunction{Type: &wasm.FunctionType{Params: params, Results: results}, Call: fn}
	return b
}

// ExportGlobal adds a global of type vt holding the raw bits val.
func (b *HostModuleBuilder) ExportGlobal(name string, vt api.ValueType, mutable bool, val uint64) *HostModuleBuilder {
	b.globals[name] = &wasm.GlobalInstance{Type: &wasm.GlobalType{ValType: vt, Mutable: mutable}, Val: val}
	return b
}

// ExportMemory adds a memory of minPages that may grow up to the runtime's memory limit.
func (b *HostModuleBuilder) ExportMemory(name string, minPages uint32) *HostModuleBuilder {
	b.memories[name] = &wasm.MemoryType{Min: minPages}
	return b
}

// ExportMemoryWithMax adds a memory of minPages that may grow up to maxPages.
func (b *HostModuleBuilder) ExportMemoryWithMax(name string, minPages, maxPages uint32) *HostModuleBuilder {
	b.memories[name] = &wasm.MemoryType{Min: minPages, Max: &maxPages}
	return b
}

// Instantiate validates the definitions, creates the memories and registers the host module.
func (b *HostModuleBuilder) Instantiate(context.Context) (*HostModule, error) {
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("host module[%s]: %w", b.name, err)
	}
	h := &HostModule{
		r:         b.r,
		name:      b.name,
		functions: b.functions,
		globals:   b.globals,
		memories:  map[string]*wasm.MemoryInstance{},
	}
	for name, mt := range b.memories {
		mem, err := wasm.NewMemoryInstance(mt, b.r.cfg.memoryLimitPages)
		if err != nil {
			_ = h.release()
			return nil, fmt.Errorf("host module[%s] memory %s: %w", b.name, name, err)
		}
		b.r.retainMemory(mem)
		h.memories[name] = mem
	}
	if err := b.r.register(b.name, h); err != nil {
		_ = h.release()
		return nil, err
	}
	b.r.logger.WithField("module", b.name).Info("host module instantiated")
	return h, nil
}

func (b *HostModuleBuilder) validate() error {
	for _, name := range sortedKeys(b.functions) {
		ft := b.functions[name].Type
		if len(ft.Results) > 1 {
			return fmt.Errorf("function %s: multiple result types are not supported", name)
		}
		for _, t := range append(append([]api.ValueType{}, ft.Params...), ft.Results...) {
			if !wasm.IsValueType(t) {
				return fmt.Errorf("function %s: invalid value type %#x", name, t)
			}
		}
		if b.functions[name].Call == nil {
			return fmt.Errorf("function %s: nil", name)
		}
	}
	for _, name := range sortedKeys(b.globals) {
		if t := b.globals[name].Type.ValType; !wasm.IsValueType(t) {
			return fmt.Errorf("global %s: invalid value type %#x", name, t)
		}
	}
	limit := b.r.cfg.memoryLimitPages
	for _, name := range sortedKeys(b.memories) {
		mt := b.memories[name]
		if mt.Max != nil && mt.Min > *mt.Max {
			return fmt.Errorf("memory %s: min %d pages > max %d pages", name, mt.Min, *mt.Max)
		}
		if mt.Min > limit || (mt.Max != nil && *mt.Max > limit) {
			return fmt.Errorf("memory %s: exceeds the limit of %d pages", name, limit)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// HostModule is an instantiated host module.
type HostModule struct {
	r         *Runtime
	name      string
	functions map[string]*wasm.HostFunction
	globals   map[string]*wasm.GlobalInstance
	memories  map[string]*wasm.MemoryInstance

	mux    sync.Mutex
	closed bool
}

// Name returns the name the host module is registered under.
func (h *HostModule) Name() string {
	return h.name
}

// ExportedMemory returns the memory exported as name, or nil.
func (h *HostModule) ExportedMemory(name string) api.Memory {
	mem, ok := h.memories[name]
	if !ok {
		return nil
	}
	return mem
}

// resolve implements exporter.resolve.
func (h *HostModule) resolve(name string, expected *wasm.ImportType) (*wasm.Symbol, bool) {
	switch expected.Kind {
	case wasm.ExternTypeFunc:
		if f, ok := h.functions[name]; ok {
			return &wasm.Symbol{Func: f}, true
		}
	case wasm.ExternTypeGlobal:
		if g, ok := h.globals[name]; ok {
			return &wasm.Symbol{Global: g}, true
		}
	case wasm.ExternTypeMemory:
		if m, ok := h.memories[name]; ok {
			return &wasm.Symbol{Memory: m}, true
		}
	}
	return nil, false
}

// Close removes the host module from the namespace. Memories stay alive while instances use them.
func (h *HostModule) Close(context.Context) error {
	h.mux.Lock()
	if h.closed {
		h.mux.Unlock()
		return nil
	}
	h.closed = true
	h.mux.Unlock()

	h.r.unregister(h.name, h)
	return h.release()
}

func (h *HostModule) release() error {
	var errs []error
	for _, mem := range h.memories {
		errs = append(errs, h.r.releaseMemory(mem))
	}
	return errors.Join(errs...)
}
