package nrt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nianjia-runtime/nrt/api"
	"github.com/nianjia-runtime/nrt/internal/abi"
	"github.com/nianjia-runtime/nrt/internal/backend/interp"
	"github.com/nianjia-runtime/nrt/internal/logging"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// ModuleConfig configures a single instantiation.
type ModuleConfig struct {
	name    string
	nameSet bool
}

// NewModuleConfig returns a configuration that keeps the name of the compiled module.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// WithName sets the name the instance is registered under, which other modules import it by. The
// empty name instantiates without registering.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	ret := *c
	ret.name, ret.nameSet = name, true
	return &ret
}

// Instance is an instantiated module. Its exported functions are invoked with Call.
//
// Calls to one Instance must not overlap unless the module tolerates concurrent use of its memory
// and globals.
type Instance struct {
	name   string
	r      *Runtime
	module *wasm.Module
	logger logrus.FieldLogger
	scopes logging.LogScopes

	compartment *compartment
	wctx        *wasm.Context
	// memories and tables are indexed by the module's index spaces.
	memories      []*wasm.MemoryInstance
	memoryRecords []uint32
	tables        []*wasm.TableInstance
	tableRecords  []uint32
	// hosts are the imported functions.
	hosts []*wasm.HostFunction
	code  *interp.Module

	mux    sync.Mutex
	closed bool
}

// InstantiateModule links the imports of the module against the namespace, allocates its context,
// memories, tables and globals, copies its data segments and runs its start function.
//
// A nil cfg is NewModuleConfig().
func (r *Runtime) InstantiateModule(ctx context.Context, cm *CompiledModule, cfg *ModuleConfig) (*Instance, error) {
	if cfg == nil {
		cfg = NewModuleConfig()
	}
	name := cm.name
	if cfg.nameSet {
		name = cfg.name
	}
	if err := r.requireName(name); err != nil {
		return nil, err
	}
	m := cm.module
	logger := r.logger.WithField("module", name)

	linked, err := wasm.Link(m, r)
	if err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}
	if r.cfg.logScopes.IsEnabled(logging.LogScopeLink) {
		logger.WithField("imports", len(m.ImportSection)).Debug("imports linked")
	}

	inst := &Instance{name: name, r: r, module: m, scopes: r.cfg.logScopes, hosts: linked.Functions}
	if inst.compartment, inst.wctx, err = r.newContext(); err != nil {
		return nil, err
	}
	// Until the instance is registered, any failure gives back its context, records and memories.
	registered := false
	defer func() {
		if !registered {
			_ = inst.release()
		}
	}()
	inst.logger = logger.WithFields(logrus.Fields{"compartment": inst.compartment.ID, "context": inst.wctx.ID})

	symbols := map[string]uint64{}
	if err = inst.initMemories(linked, symbols); err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}
	if err = inst.initTables(linked, symbols); err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}
	lookup, err := inst.initGlobals(linked, symbols)
	if err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}
	for i, ft := range m.TypeSection {
		symbols[abi.SymbolName(abi.SymbolKindTypeID, uint32(i))] = r.typeID(ft)
	}

	functions := r.intrinsics()
	imported := m.ImportCount(wasm.ExternTypeFunc)
	for i := wasm.Index(0); i < m.FunctionCount(); i++ {
		var sym string
		if i < imported {
			sym = abi.SymbolName(abi.SymbolKindFunctionImport, i)
			functions[sym] = hostAdapter(linked.Functions[i])
		} else {
			sym = abi.SymbolName(abi.SymbolKindFunctionDef, i-imported)
		}
		// Function handles are combined function indices.
		symbols[sym] = uint64(i)
	}

	if err = m.InitializeData(inst.memories, lookup); err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}
	inst.code, err = interp.Load(cm.code, interp.Imports{Symbols: symbols, Functions: functions},
		interp.Config{MaxCallDepth: r.cfg.maxCallDepth, Logger: inst.logger})
	if err != nil {
		return nil, fmt.Errorf("module[%s]: %w", name, err)
	}

	if m.StartSection != nil {
		if _, err = inst.callIndex(ctx, *m.StartSection, nil); err != nil {
			return nil, fmt.Errorf("module[%s] start: %w", name, err)
		}
	}
	if err = r.register(name, inst); err != nil {
		return nil, err
	}
	registered = true
	inst.logger.Info("module instantiated")
	return inst, nil
}

func (r *Runtime) requireName(name string) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return wasm.ErrClosed
	}
	if _, ok := r.modules[name]; ok && name != "" {
		return fmt.Errorf("module[%s] has already been instantiated", name)
	}
	return nil
}

// initMemories creates the defined memories, records every memory in the compartment and binds it to
// the context.
func (i *Instance) initMemories(linked *wasm.LinkedImports, symbols map[string]uint64) error {
	m := i.module
	for idx := wasm.Index(0); idx < m.MemoryCount(); idx++ {
		var mem *wasm.MemoryInstance
		if m.IsImport(wasm.ExternTypeMemory, idx) {
			mem = linked.Memories[idx]
		} else {
			var err error
			if mem, err = wasm.NewMemoryInstance(m.TypeOfMemory(idx), i.r.cfg.memoryLimitPages); err != nil {
				return err
			}
		}
		i.r.retainMemory(mem)
		i.memories = append(i.memories, mem)

		id, err := i.r.addMemoryRecord(i.compartment, mem)
		if err != nil {
			return err
		}
		i.memoryRecords = append(i.memoryRecords, id)
		i.wctx.BindMemory(idx, mem)
		symbols[abi.SymbolName(abi.SymbolKindMemoryOffset, idx)] = abi.MemoryRecordOffset(id)

		if i.scopes.IsEnabled(logging.LogScopeMemory) {
			i.logger.WithFields(logrus.Fields{"index": idx, "pages": mem.Pages(), "max": mem.Max, "record": id}).Debug("memory bound")
		}
	}
	return nil
}

func (i *Instance) initTables(linked *wasm.LinkedImports, symbols map[string]uint64) error {
	m := i.module
	for idx := wasm.Index(0); idx < m.TableCount(); idx++ {
		var t *wasm.TableInstance
		if m.IsImport(wasm.ExternTypeTable, idx) {
			t = linked.Tables[idx]
		} else {
			t = wasm.NewTableInstance(m.TypeOfTable(idx))
		}
		id, err := i.compartment.AddTable(t)
		if err != nil {
			return err
		}
		i.tables = append(i.tables, t)
		i.tableRecords = append(i.tableRecords, id)
		symbols[abi.SymbolName(abi.SymbolKindTableOffset, idx)] = abi.TableRecordOffset(id)
	}
	return nil
}

// initGlobals stores the value of every global in the context and returns the lookup constant
// expressions use. Imported globals are copied in: later changes by their exporter are not seen.
func (i *Instance) initGlobals(linked *wasm.LinkedImports, symbols map[string]uint64) (wasm.GlobalLookup, error) {
	m := i.module
	imported := m.ImportCount(wasm.ExternTypeGlobal)
	types := make([]wasm.ValueType, imported)
	vals := make([]uint64, imported)
	lookup := func(idx wasm.Index) (wasm.ValueType, uint64, bool) {
		if idx >= imported {
			return 0, 0, false
		}
		return types[idx], vals[idx], true
	}

	for idx := wasm.Index(0); idx < m.GlobalCount(); idx++ {
		gt := m.TypeOfGlobal(idx)
		isImport := idx < imported
		inline := abi.GlobalInline(isImport, gt.Mutable)
		if isImport {
			g := linked.Globals[idx]
			types[idx], vals[idx] = gt.ValType, g.Val
			i.wctx.SetGlobal(idx, inline, g.Val, g.ValHi)
		} else {
			g := m.GlobalSection[idx-imported]
			t, v, err := g.Init.Evaluate(lookup)
			if err != nil {
				return nil, fmt.Errorf("global[%d]: %w", idx, err)
			}
			if t != gt.ValType {
				return nil, fmt.Errorf("global[%d]: initializer is %s, but the global is %s", idx, wasm.ValueTypeName(t), wasm.ValueTypeName(gt.ValType))
			}
			i.wctx.SetGlobal(idx, inline, v, 0)
		}

		if inline {
			symbols[abi.SymbolName(abi.SymbolKindGlobal, idx)] = abi.MutableGlobalOffset(idx)
		} else {
			symbols[abi.SymbolName(abi.SymbolKindGlobal, idx)] = uint64(i.wctx.GlobalAddress(idx, false))
		}
	}
	return lookup, nil
}

// hostAdapter drops the context pointer compiled code passes first.
func hostAdapter(f *wasm.HostFunction) interp.HostFunction {
	return func(ctx context.Context, args []uint64) ([]uint64, error) {
		return f.Call(ctx, args[1:])
	}
}

// intrinsics returns the runtime functions compiled code calls with the standard calling convention.
// They find their instance state through the context pointer, like native code would.
func (r *Runtime) intrinsics() map[string]interp.HostFunction {
	return map[string]interp.HostFunction{
		abi.IntrinsicTrap:       r.trap,
		abi.IntrinsicMemoryGrow: r.memoryGrow,
		abi.IntrinsicMemorySize: r.memorySize,
	}
}

func (r *Runtime) trap(_ context.Context, args []uint64) ([]uint64, error) {
	switch code := abi.TrapCode(args[1]); code {
	case abi.TrapCodeUnreachable:
		return nil, wasm.ErrRuntimeUnreachable
	case abi.TrapCodeOutOfBoundsMemoryAccess:
		return nil, wasm.ErrRuntimeOutOfBoundsMemoryAccess
	default:
		return nil, fmt.Errorf("unknown trap: %s", code)
	}
}

// memoryOf returns the memory args[1] of the context args[0].
func memoryOf(args []uint64) (*wasm.MemoryInstance, error) {
	ctx, ok := wasm.ContextOf(uintptr(args[0]))
	if !ok {
		return nil, fmt.Errorf("%#x is not a context pointer", args[0])
	}
	mem := ctx.Memory(wasm.Index(args[1]))
	if mem == nil {
		return nil, fmt.Errorf("memory[%d] is not bound to context %d", args[1], ctx.ID)
	}
	return mem, nil
}

// memoryGrow returns the previous page count, or -1 if the memory cannot grow by args[2] pages.
func (r *Runtime) memoryGrow(_ context.Context, args []uint64) ([]uint64, error) {
	mem, err := memoryOf(args)
	if err != nil {
		return nil, err
	}
	delta := uint32(args[2])
	prev, err := mem.Grow(delta)
	if errors.Is(err, wasm.ErrMemoryGrow) || errors.Is(err, wasm.ErrMemoryCommit) {
		r.logger.WithError(err).WithField("pages", delta).Warn("memory.grow failed")
		return []uint64{math.MaxUint32}, nil
	} else if err != nil {
		return nil, err
	}
	if r.cfg.logScopes.IsEnabled(logging.LogScopeMemory) {
		r.logger.WithFields(logrus.Fields{"index": args[1], "pages": prev + delta}).Debug("memory grown")
	}
	return []uint64{uint64(prev)}, nil
}

func (r *Runtime) memorySize(_ context.Context, args []uint64) ([]uint64, error) {
	mem, err := memoryOf(args)
	if err != nil {
		return nil, err
	}
	return []uint64{uint64(mem.Pages())}, nil
}

// Name returns the name the instance is registered under.
func (i *Instance) Name() string {
	return i.name
}

// Call invokes the exported function name. params and results are raw bits; see api.ValueType.
//
// Traps are returned as errors wrapping wasm runtime errors such as "unreachable" or "out of bounds
// memory access". Cancelling ctx interrupts the call.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	exp := i.module.Export(wasm.ExternTypeFunc, name)
	if exp == nil {
		return nil, fmt.Errorf("%q is not exported in module %q", name, i.name)
	}
	return i.callIndex(ctx, exp.Index, params)
}

func (i *Instance) callIndex(ctx context.Context, funcIdx wasm.Index, params []uint64) (results []uint64, err error) {
	i.mux.Lock()
	closed := i.closed
	i.mux.Unlock()
	if closed {
		return nil, fmt.Errorf("module[%s]: %w", i.name, wasm.ErrClosed)
	}

	imported := i.module.ImportCount(wasm.ExternTypeFunc)
	if funcIdx < imported {
		results, err = i.hosts[funcIdx].Call(ctx, params)
	} else {
		args := make([]uint64, 0, len(params)+1)
		args = append(args, uint64(i.wctx.Pointer()))
		args = append(args, params...)
		results, err = i.code.Call(ctx, abi.SymbolName(abi.SymbolKindFunctionDef, funcIdx-imported), args...)
	}

	if i.scopes.IsEnabled(logging.LogScopeCall) {
		ft := i.module.TypeOfFunction(funcIdx)
		fields := logrus.Fields{
			"function": i.module.FunctionName(funcIdx),
			"params":   logging.FormatValues(ft.Params, params),
		}
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["results"] = logging.FormatValues(ft.Results, results)
		}
		i.logger.WithFields(fields).Debug("call")
	}
	return results, err
}

// ExportedMemory returns the memory exported as name, or nil.
func (i *Instance) ExportedMemory(name string) api.Memory {
	exp := i.module.Export(wasm.ExternTypeMemory, name)
	if exp == nil {
		return nil
	}
	return i.memories[exp.Index]
}

// ExportedGlobal returns the raw bits of the global exported as name. hi is only used by v128.
func (i *Instance) ExportedGlobal(name string) (lo, hi uint64, ok bool) {
	exp := i.module.Export(wasm.ExternTypeGlobal, name)
	if exp == nil {
		return 0, 0, false
	}
	lo, hi = i.global(exp.Index)
	return lo, hi, true
}

func (i *Instance) global(idx wasm.Index) (lo, hi uint64) {
	gt := i.module.TypeOfGlobal(idx)
	return i.wctx.Global(idx, abi.GlobalInline(i.module.IsImport(wasm.ExternTypeGlobal, idx), gt.Mutable))
}

// resolve implements exporter.resolve. Exported functions call back into this instance.
func (i *Instance) resolve(name string, expected *wasm.ImportType) (*wasm.Symbol, bool) {
	exp := i.module.Export(expected.Kind, name)
	if exp == nil {
		return nil, false
	}
	idx := exp.Index
	switch expected.Kind {
	case wasm.ExternTypeFunc:
		return &wasm.Symbol{Func: &wasm.HostFunction{
			Type: i.module.TypeOfFunction(idx),
			Call: func(ctx context.Context, params []uint64) ([]uint64, error) {
				return i.callIndex(ctx, idx, params)
			},
		}}, true
	case wasm.ExternTypeGlobal:
		lo, hi := i.global(idx)
		return &wasm.Symbol{Global: &wasm.GlobalInstance{Type: i.module.TypeOfGlobal(idx), Val: lo, ValHi: hi}}, true
	case wasm.ExternTypeMemory:
		return &wasm.Symbol{Memory: i.memories[idx]}, true
	case wasm.ExternTypeTable:
		return &wasm.Symbol{Table: i.tables[idx]}, true
	}
	return nil, false
}

// Close removes the instance from the namespace and releases its context and the memories no other
// instance uses. It is safe to call more than once.
func (i *Instance) Close(context.Context) error {
	i.mux.Lock()
	if i.closed {
		i.mux.Unlock()
		return nil
	}
	i.closed = true
	i.mux.Unlock()

	i.r.unregister(i.name, i)
	err := i.release()
	i.logger.Debug("module closed")
	return err
}

func (i *Instance) release() error {
	var errs []error
	for _, id := range i.tableRecords {
		i.compartment.RemoveTable(id)
	}
	for _, id := range i.memoryRecords {
		i.r.removeMemoryRecord(i.compartment, id)
	}
	for _, mem := range i.memories {
		errs = append(errs, i.r.releaseMemory(mem))
	}
	errs = append(errs, i.r.releaseContext(i.compartment, i.wctx))
	return errors.Join(errs...)
}
