// Package interp loads lowered modules and executes them directly, without generating machine code.
// Memory instructions access real host addresses, so the code runs against the same runtime data
// and linear memories native code would.
package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/nianjia-runtime/nrt/internal/backend"
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// ErrUnresolved is wrapped by Load errors listing imports missing from Imports.
var ErrUnresolved = errors.New("unresolved import")

// DefaultMaxCallDepth bounds the nesting of calls between compiled functions.
const DefaultMaxCallDepth = 2048

// HostFunction implements an imported function or an intrinsic. Arguments and results are raw bits,
// with v128 values taking two words, low half first. The context pointer is the first argument of
// functions with the fast calling convention.
type HostFunction func(ctx context.Context, args []uint64) ([]uint64, error)

// Imports supplies what a CodeObject needs from the runtime.
type Imports struct {
	Symbols   map[string]uint64
	Functions map[string]HostFunction
}

// Config tunes a loaded Module.
type Config struct {
	MaxCallDepth int
	Logger       logrus.FieldLogger
}

// Module is a loaded CodeObject. It is safe for concurrent use if the runtime data it accesses is.
type Module struct {
	name         string
	symbols      []uint64
	functions    []function
	maxCallDepth int
}

type function struct {
	decl *ssa.FunctionDecl
	body *ssa.Function
	host HostFunction
}

// Compiler is the portable backend. Its code objects carry no text.
type Compiler struct{}

// Compile implements backend.Compiler.
func (Compiler) Compile(m *ssa.Module) (*backend.CodeObject, error) {
	if err := backend.CheckBodies(m); err != nil {
		return nil, err
	}
	return &backend.CodeObject{Arch: backend.ArchPortable, Imports: backend.ImportsOf(m), Module: m}, nil
}

// Load resolves every import of obj and returns the executable module.
func Load(obj *backend.CodeObject, imports Imports, cfg Config) (*Module, error) {
	sm := obj.Module
	if err := backend.CheckBodies(sm); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	m := &Module{name: sm.Name, maxCallDepth: cfg.MaxCallDepth}
	if m.maxCallDepth <= 0 {
		m.maxCallDepth = DefaultMaxCallDepth
	}

	var missing []error
	m.symbols = make([]uint64, len(sm.Symbols()))
	for _, s := range sm.Symbols() {
		v, ok := imports.Symbols[s.Name]
		if !ok {
			missing = append(missing, fmt.Errorf("constant %s", s.Name))
			continue
		}
		m.symbols[s.Ref] = v
	}
	m.functions = make([]function, len(sm.Functions()))
	for _, d := range sm.Functions() {
		f := function{decl: d}
		if d.Linkage == ssa.LinkageDefined {
			f.body = d.Body()
		} else if f.host = imports.Functions[d.Name]; f.host == nil {
			missing = append(missing, fmt.Errorf("%s function %s", d.Linkage, d.Name))
		}
		m.functions[d.Ref] = f
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrUnresolved, errors.Join(missing...))
	}

	logger.WithFields(logrus.Fields{
		"module":    sm.Name,
		"functions": len(m.functions),
		"symbols":   len(m.symbols),
	}).Debug("code object loaded")
	return m, nil
}

// Call executes the defined function name. args and results are raw bits as for HostFunction.
//
// Faults on memory accesses, such as touching a guard page, are returned as errors wrapping
// wasm.ErrRuntimeOutOfBoundsMemoryAccess. Cancelling ctx interrupts loops.
func (m *Module) Call(ctx context.Context, name string, args ...uint64) (results []uint64, err error) {
	var f *function
	for i := range m.functions {
		if m.functions[i].decl.Name == name {
			f = &m.functions[i]
			break
		}
	}
	if f == nil || f.body == nil {
		return nil, fmt.Errorf("%s is not a defined function of %s", name, m.name)
	}
	sig := f.decl.Signature
	params, err := unflatten(sig.Params, args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			if fault, ok := r.(interface {
				runtime.Error
				Addr() uintptr
			}); ok {
				results, err = nil, fmt.Errorf("%w: fault at %#x", wasm.ErrRuntimeOutOfBoundsMemoryAccess, fault.Addr())
				return
			}
			panic(r)
		}
	}()

	ret, err := m.exec(ctx, f.body, params, 0)
	if err != nil {
		return nil, err
	}
	return flatten(sig.Result(), ret), nil
}

// value holds the bits of any SSA value. hi is only used by vectors.
type value struct {
	lo, hi uint64
}

func unflatten(types []ssa.Type, words []uint64) ([]value, error) {
	ret := make([]value, 0, len(types))
	for _, t := range types {
		n := 1
		if t.IsVector() {
			n = 2
		}
		if len(words) < n {
			return nil, fmt.Errorf("expected %d words for %s", n, t)
		}
		v := value{lo: mask(t, words[0])}
		if n == 2 {
			v.hi = words[1]
		}
		ret = append(ret, v)
		words = words[n:]
	}
	if len(words) != 0 {
		return nil, fmt.Errorf("%d extra words", len(words))
	}
	return ret, nil
}

func flatten(t ssa.Type, v value) []uint64 {
	switch {
	case t == ssa.TypeInvalid:
		return nil
	case t.IsVector():
		return []uint64{v.lo, v.hi}
	default:
		return []uint64{v.lo}
	}
}
