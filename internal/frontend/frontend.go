// Package frontend lowers WebAssembly function bodies to SSA IR using the ssa package.
package frontend

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/nianjia-runtime/nrt/internal/abi"
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// ErrUnsupportedInstruction is returned when a body uses an instruction the compiler does not lower.
// The returned error also wraps wasm.ErrInvalidModule.
var ErrUnsupportedInstruction = errors.New("unsupported instruction")

// Config tunes a FunctionCompiler.
type Config struct {
	// BoundsChecks makes every memory access compare its end against the current memory length
	// and trap instead of relying on guard pages.
	BoundsChecks bool
	Logger       logrus.FieldLogger
}

// FunctionCompiler lowers the bodies of one module's functions. A FunctionCompiler is not safe for
// concurrent use, but any number of them may share a ModuleContext.
type FunctionCompiler struct {
	mc      *ModuleContext
	cfg     Config
	logger  logrus.FieldLogger
	builder ssa.Builder

	// Followings are reset by per function.

	funcIdx wasm.Index
	typ     *wasm.FunctionType
	body    []byte
	state   loweringState
	// ctxSlot holds the context pointer, and memBaseSlot the cached base address of memory 0.
	ctxSlot, memBaseSlot ssa.Value
	locals               []local
}

type local struct {
	slot ssa.Value
	typ  ssa.Type
}

// loweringError is panicked while lowering and recovered by Compile into a module-invalid error.
type loweringError struct {
	err error
}

// NewFunctionCompiler returns a FunctionCompiler for the functions of mc.
func NewFunctionCompiler(mc *ModuleContext, cfg Config) *FunctionCompiler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
		logger.(*logrus.Logger).SetOutput(io.Discard)
	}
	return &FunctionCompiler{
		mc:      mc,
		cfg:     cfg,
		logger:  logger.WithField("module", mc.SSA.Name),
		builder: ssa.NewBuilder(mc.SSA),
	}
}

// Compile lowers the module-defined function at defIdx and attaches the body to its declaration.
func (c *FunctionCompiler) Compile(defIdx wasm.Index) (fn *ssa.Function, err error) {
	m := c.mc.Wasm
	funcIdx := m.ImportCount(wasm.ExternTypeFunc) + defIdx
	code := m.CodeOfFunction(funcIdx)
	if code == nil {
		return nil, fmt.Errorf("%w: function[%d] has no body", wasm.ErrInvalidModule, funcIdx)
	}

	defer func() {
		if r := recover(); r != nil {
			lerr, ok := r.(loweringError)
			if !ok {
				panic(r)
			}
			fn, err = nil, fmt.Errorf("%w: function[%d] %s: %w", wasm.ErrInvalidModule, funcIdx, m.FunctionName(funcIdx), lerr.err)
		}
	}()

	c.init(funcIdx, m.TypeOfFunction(funcIdx), code)
	c.lowerBody()
	fn = c.builder.Finish()
	c.mc.SSA.SetBody(c.mc.FunctionRef(funcIdx), fn)

	c.logger.WithFields(logrus.Fields{
		"function": m.FunctionName(funcIdx),
		"index":    funcIdx,
		"blocks":   len(fn.Blocks()),
	}).Debug("function lowered")
	return fn, nil
}

func (c *FunctionCompiler) init(funcIdx wasm.Index, typ *wasm.FunctionType, code *wasm.Code) {
	c.funcIdx = funcIdx
	c.typ = typ
	c.body = code.Body
	c.state.reset()
	c.locals = c.locals[:0]
	c.memBaseSlot = ssa.ValueInvalid

	b := c.builder
	types := c.mc.Types
	b.Init(c.mc.SignatureOf(funcIdx))
	params := b.Params()
	b.AnnotateValue(params[0], "ctx")

	// The function frame's end block is the only block that returns.
	ret := controlFrame{kind: controlFrameKindFunction, end: b.AllocateBasicBlock(), resultType: c.resultType(typ)}
	if ret.hasResult() {
		ret.merge = b.AllocatePhi(ret.end, ret.resultType)
	}
	c.state.ctrlPush(ret, branchTarget{blk: ret.end, typ: ret.resultType, merge: ret.merge})

	c.ctxSlot = b.AllocateInstruction().AsStackSlot(ssa.TypePtr).Insert(b).Return()
	b.AllocateInstruction().AsStackStore(params[0], c.ctxSlot).Insert(b)

	if c.mc.hasMemory() {
		c.memBaseSlot = b.AllocateInstruction().AsStackSlot(ssa.TypePtr).Insert(b).Return()
		record := c.memoryRecordAddress(0, abi.MemoryRecordBaseOffset)
		base := b.AllocateInstruction().AsLoad(record, ssa.TypeI64, access(8, 3)).Insert(b).Return()
		basePtr := b.AllocateInstruction().AsIntToPtr(base).Insert(b).Return()
		b.AnnotateValue(basePtr, "mem_base")
		b.AllocateInstruction().AsStackStore(basePtr, c.memBaseSlot).Insert(b)
	}

	for i, vt := range typ.Params {
		c.declareLocal(types.SSAType(vt), params[i+1])
	}
	for _, vt := range code.LocalTypes {
		t := types.SSAType(vt)
		c.declareLocal(t, types.Zero(b, t))
	}
}

func (c *FunctionCompiler) declareLocal(t ssa.Type, init ssa.Value) {
	b := c.builder
	slot := b.AllocateInstruction().AsStackSlot(t).Insert(b).Return()
	b.AllocateInstruction().AsStackStore(init, slot).Insert(b)
	c.locals = append(c.locals, local{slot: slot, typ: t})
}

func (c *FunctionCompiler) resultType(ft *wasm.FunctionType) ssa.Type {
	if len(ft.Results) == 0 {
		return ssa.TypeInvalid
	}
	return c.mc.Types.SSAType(ft.Results[0])
}

// contextPointer reloads the context pointer from its stack slot.
func (c *FunctionCompiler) contextPointer() ssa.Value {
	b := c.builder
	return b.AllocateInstruction().AsStackLoad(c.ctxSlot, ssa.TypePtr).Insert(b).Return()
}

// compartmentBase masks the low 32 bits off the context pointer.
func (c *FunctionCompiler) compartmentBase() ssa.Value {
	b := c.builder
	ctx := b.AllocateInstruction().AsPtrToInt(c.contextPointer()).Insert(b).Return()
	mask := b.AllocateInstruction().AsIconst64(abi.CompartmentMask).Insert(b).Return()
	return b.AllocateInstruction().AsBand(ctx, mask).Insert(b).Return()
}

// memoryRecordAddress returns the address of a field of the record of memory index in the runtime data.
func (c *FunctionCompiler) memoryRecordAddress(index wasm.Index, field uint64) ssa.Value {
	b := c.builder
	base := c.compartmentBase()
	off := b.AllocateInstruction().AsSymbol(c.mc.memoryOffsets[index]).Insert(b).Return()
	addr := b.AllocateInstruction().AsIadd(base, off).Insert(b).Return()
	if field != 0 {
		f := b.AllocateInstruction().AsIconst64(field).Insert(b).Return()
		addr = b.AllocateInstruction().AsIadd(addr, f).Insert(b).Return()
	}
	return b.AllocateInstruction().AsIntToPtr(addr).Insert(b).Return()
}

// canonicalize reinterprets vector values as the canonical vector type. Other values are returned as is.
func (c *FunctionCompiler) canonicalize(v ssa.Value) ssa.Value {
	if v.Type() != ssa.TypeI64x2 {
		return v
	}
	b := c.builder
	return b.AllocateInstruction().AsBitcast(v, ssa.TypeV128).Insert(b).Return()
}

func access(size, alignLog2 byte) ssa.MemoryAccess {
	return ssa.MemoryAccess{Size: size, AlignLog2: alignLog2}
}

func unsupported(op string) {
	panic(loweringError{fmt.Errorf("%w: %s", ErrUnsupportedInstruction, op)})
}

func malformed(format string, args ...interface{}) {
	panic(loweringError{fmt.Errorf(format, args...)})
}
