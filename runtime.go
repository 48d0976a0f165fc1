// Package nrt compiles WebAssembly modules to SSA form, generates code for them and runs them in
// compartments: isolated address-space regions whose runtime data is found by masking the context
// pointer every compiled function receives.
package nrt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nianjia-runtime/nrt/internal/backend"
	"github.com/nianjia-runtime/nrt/internal/backend/amd64"
	"github.com/nianjia-runtime/nrt/internal/backend/interp"
	"github.com/nianjia-runtime/nrt/internal/frontend"
	"github.com/nianjia-runtime/nrt/internal/logging"
	"github.com/nianjia-runtime/nrt/internal/wasm"
	"github.com/nianjia-runtime/nrt/internal/wasm/binary"
)

// Runtime compiles and instantiates modules. Instances and host modules are registered in its
// namespace by name, which is where imports of later instances are resolved.
//
// A Runtime is safe for concurrent use.
type Runtime struct {
	cfg    *RuntimeConfig
	logger logrus.FieldLogger
	types  *frontend.TypeCatalog

	mux     sync.Mutex
	modules map[string]exporter
	// open holds every instance and host module not closed yet, named or not.
	open         map[exporter]struct{}
	compartments []*compartment
	// typeIDs are canonical signature ids shared by every module of the runtime.
	typeIDs map[string]uint64
	// memoryRefs counts the instances and host modules using each memory. A memory is closed when
	// the count drops to zero.
	memoryRefs map[*wasm.MemoryInstance]int
	closed     bool
}

// exporter is a module in the namespace.
type exporter interface {
	resolve(name string, expected *wasm.ImportType) (*wasm.Symbol, bool)
}

// compartment is a wasm.Compartment and the bookkeeping of the instances placed in it.
type compartment struct {
	*wasm.Compartment
	live int
	// memoryRecords counts the instances using each memory record.
	memoryRecords map[uint32]int
}

// NewRuntime returns a runtime with the given configuration. A nil cfg is NewRuntimeConfig().
func NewRuntime(cfg *RuntimeConfig) *Runtime {
	if cfg == nil {
		cfg = NewRuntimeConfig()
	}
	logger := cfg.logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		types:      frontend.DefaultTypeCatalog(),
		modules:    map[string]exporter{},
		open:       map[exporter]struct{}{},
		typeIDs:    map[string]uint64{},
		memoryRefs: map[*wasm.MemoryInstance]int{},
	}
}

// CompileModule decodes a module in the WebAssembly 1.0 binary format, validates it, lowers every
// function and generates code with the configured backend.
func (r *Runtime) CompileModule(ctx context.Context, source []byte) (*CompiledModule, error) {
	m, err := binary.DecodeModule(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wasm.ErrInvalidModule, err)
	}
	var name string
	if m.NameSection != nil {
		name = m.NameSection.ModuleName
	}
	return r.compileModule(ctx, m, name)
}

func (r *Runtime) compileModule(ctx context.Context, m *wasm.Module, name string) (*CompiledModule, error) {
	if err := m.Validate(r.cfg.memoryLimitPages); err != nil {
		return nil, err
	}
	logger := r.logger.WithField("module", name)

	mc := frontend.NewModuleContext(m, name, r.types)
	if err := r.lower(ctx, mc, logger); err != nil {
		return nil, err
	}

	var compiler backend.Compiler
	switch r.cfg.backend {
	case backend.ArchAMD64:
		compiler = amd64.Compiler{Logger: logger}
	default:
		compiler = interp.Compiler{}
	}
	obj, err := compiler.Compile(mc.SSA)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	logger.WithFields(logrus.Fields{
		"backend":   obj.Arch,
		"functions": len(m.FunctionSection),
		"fallbacks": len(obj.Fallbacks),
	}).Info("module compiled")
	return &CompiledModule{name: name, module: m, code: obj}, nil
}

// lower builds the SSA bodies of every defined function, spreading them over the compilation
// workers. Each worker owns one FunctionCompiler.
func (r *Runtime) lower(ctx context.Context, mc *frontend.ModuleContext, logger logrus.FieldLogger) error {
	n := len(mc.Wasm.FunctionSection)
	if n == 0 {
		return nil
	}
	workers := r.cfg.compilationWorkers
	if workers > n {
		workers = n
	}
	var fcLogger logrus.FieldLogger = logging.Discard()
	if r.cfg.logScopes.IsEnabled(logging.LogScopeCompile) {
		fcLogger = r.logger
	}

	g, gctx := errgroup.WithContext(ctx)
	next := make(chan wasm.Index)
	g.Go(func() error {
		defer close(next)
		for i := 0; i < n; i++ {
			select {
			case next <- wasm.Index(i):
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		fc := frontend.NewFunctionCompiler(mc, frontend.Config{BoundsChecks: r.cfg.boundsChecks, Logger: fcLogger})
		g.Go(func() error {
			for idx := range next {
				if _, err := fc.Compile(idx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.WithField("workers", workers).Debug("functions lowered")
	return nil
}

// Resolve implements wasm.Resolver over the namespace.
func (r *Runtime) Resolve(moduleName, name string, expected *wasm.ImportType) (*wasm.Symbol, bool) {
	r.mux.Lock()
	e, ok := r.modules[moduleName]
	r.mux.Unlock()
	if !ok {
		return nil, false
	}
	return e.resolve(name, expected)
}

func (r *Runtime) register(name string, e exporter) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return wasm.ErrClosed
	}
	if name != "" {
		if _, ok := r.modules[name]; ok {
			return fmt.Errorf("module[%s] has already been instantiated", name)
		}
		r.modules[name] = e
	}
	r.open[e] = struct{}{}
	return nil
}

func (r *Runtime) unregister(name string, e exporter) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.modules[name] == e {
		delete(r.modules, name)
	}
	delete(r.open, e)
}

// typeID returns the canonical id of a signature. Ids start at one.
func (r *Runtime) typeID(ft *wasm.FunctionType) uint64 {
	r.mux.Lock()
	defer r.mux.Unlock()
	key := ft.String()
	id, ok := r.typeIDs[key]
	if !ok {
		id = uint64(len(r.typeIDs) + 1)
		r.typeIDs[key] = id
	}
	return id
}

// newContext places a new context in a compartment with room left, opening one if needed.
func (r *Runtime) newContext() (*compartment, *wasm.Context, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return nil, nil, wasm.ErrClosed
	}
	for _, c := range r.compartments {
		if uint32(c.live) >= r.cfg.maxContexts {
			continue
		}
		ctx, err := c.NewContext()
		if errors.Is(err, wasm.ErrCompartmentFull) {
			continue
		} else if err != nil {
			return nil, nil, err
		}
		c.live++
		return c, ctx, nil
	}

	wc, err := wasm.NewCompartment(r.logger)
	if err != nil {
		return nil, nil, err
	}
	c := &compartment{Compartment: wc, memoryRecords: map[uint32]int{}}
	ctx, err := c.NewContext()
	if err != nil {
		_ = wc.Close()
		return nil, nil, err
	}
	c.live++
	r.compartments = append(r.compartments, c)
	return c, ctx, nil
}

// releaseContext closes the context and the compartment once it holds no context.
func (r *Runtime) releaseContext(c *compartment, ctx *wasm.Context) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	err := ctx.Close()
	if c.live--; c.live > 0 {
		return err
	}
	for i, cc := range r.compartments {
		if cc == c {
			r.compartments = append(r.compartments[:i], r.compartments[i+1:]...)
			break
		}
	}
	return errors.Join(err, c.Close())
}

// addMemoryRecord records mem in the compartment, sharing the record with other instances.
func (r *Runtime) addMemoryRecord(c *compartment, mem *wasm.MemoryInstance) (uint32, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	id, err := c.AddMemory(mem)
	if err != nil {
		return 0, err
	}
	c.memoryRecords[id]++
	return id, nil
}

func (r *Runtime) removeMemoryRecord(c *compartment, id uint32) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if c.memoryRecords[id]--; c.memoryRecords[id] <= 0 {
		delete(c.memoryRecords, id)
		c.RemoveMemory(id)
	}
}

func (r *Runtime) retainMemory(mem *wasm.MemoryInstance) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.memoryRefs[mem]++
}

// releaseMemory closes mem when its last user is gone.
func (r *Runtime) releaseMemory(mem *wasm.MemoryInstance) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.memoryRefs[mem]--; r.memoryRefs[mem] > 0 {
		return nil
	}
	delete(r.memoryRefs, mem)
	return mem.Close()
}

// Close closes every instance and host module in the namespace, then the runtime itself.
func (r *Runtime) Close(ctx context.Context) error {
	r.mux.Lock()
	if r.closed {
		r.mux.Unlock()
		return nil
	}
	var closers []interface{ Close(context.Context) error }
	for e := range r.open {
		if c, ok := e.(interface{ Close(context.Context) error }); ok {
			closers = append(closers, c)
		}
	}
	r.mux.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close(ctx))
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	r.closed = true
	for _, c := range r.compartments {
		errs = append(errs, c.Close())
	}
	r.compartments = nil
	return errors.Join(errs...)
}
