// Package amd64 emits x86-64 machine code for lowered functions that only use integer values.
//
// Code generation is deliberately simple: every SSA value has a slot in the frame, and each
// instruction loads its operands into scratch registers and stores its result back. Functions
// using floats, vectors, imported constants or calls are left to the portable backend.
//
// Entries follow the System V integer convention: the context pointer and up to five parameters
// arrive in DI, SI, DX, CX, R8 and R9, and the result is returned in AX.
package amd64

import (
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/nianjia-runtime/nrt/internal/backend"
	"github.com/nianjia-runtime/nrt/internal/ssa"
)

// Compiler implements backend.Compiler for amd64.
type Compiler struct {
	Logger logrus.FieldLogger
}

// Compile implements backend.Compiler. Functions that cannot be translated are listed in
// CodeObject.Fallbacks instead of failing the whole module.
func (c Compiler) Compile(m *ssa.Module) (*backend.CodeObject, error) {
	if err := backend.CheckBodies(m); err != nil {
		return nil, err
	}
	logger := c.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	co := &backend.CodeObject{
		Arch:    backend.ArchAMD64,
		Entries: map[string]uint64{},
		Imports: backend.ImportsOf(m),
		Module:  m,
	}
	a, err := newAssembler()
	if err != nil {
		return nil, err
	}
	entries := map[string]*objProg{}
	for _, d := range m.Functions() {
		fn := d.Body()
		if fn == nil {
			continue
		}
		if err := supported(fn); err != nil {
			logger.WithField("function", d.Name).WithError(err).Warn("function left to the portable backend")
			co.Fallbacks = append(co.Fallbacks, d.Name)
			continue
		}
		entry := &objProg{}
		a.whenNext(func(p *obj.Prog) { entry.p = p })
		newFunctionCompiler(a, fn).compile()
		entries[d.Name] = entry
	}
	sort.Strings(co.Fallbacks)
	if len(entries) == 0 {
		return co, nil
	}

	co.Text = a.assemble()
	for name, e := range entries {
		co.Entries[name] = uint64(e.p.Pc)
	}
	logger.WithFields(logrus.Fields{
		"module":    m.Name,
		"text":      len(co.Text),
		"entries":   len(co.Entries),
		"fallbacks": len(co.Fallbacks),
	}).Debug("module compiled")
	return co, nil
}

type objProg struct {
	p *obj.Prog
}

func integer(t ssa.Type) bool {
	switch t {
	case ssa.TypeI1, ssa.TypeI32, ssa.TypeI64, ssa.TypePtr:
		return true
	}
	return false
}

// supported returns an error wrapping backend.ErrUnsupported for the first construct of fn this
// package cannot translate.
func supported(fn *ssa.Function) error {
	sig := fn.Signature()
	if len(sig.Params) > len(paramRegs) {
		return fmt.Errorf("%w: %d parameters", backend.ErrUnsupported, len(sig.Params))
	}
	for _, t := range append(sig.Params[:len(sig.Params):len(sig.Params)], sig.Results...) {
		if !integer(t) {
			return fmt.Errorf("%w: %s in signature", backend.ErrUnsupported, t)
		}
	}
	for _, blk := range fn.Blocks() {
		for cur := blk.Root(); cur != nil; cur = cur.Next() {
			op := cur.Opcode()
			switch op {
			case ssa.OpcodeIconst, ssa.OpcodePhi,
				ssa.OpcodeIadd, ssa.OpcodeIsub, ssa.OpcodeImul, ssa.OpcodeBand, ssa.OpcodeBor, ssa.OpcodeBxor,
				ssa.OpcodeIshl, ssa.OpcodeUshr, ssa.OpcodeSshr, ssa.OpcodeIcmp,
				ssa.OpcodeUextend, ssa.OpcodeIreduce, ssa.OpcodePtrToInt, ssa.OpcodeIntToPtr,
				ssa.OpcodeSelect, ssa.OpcodeGep, ssa.OpcodeStackSlot, ssa.OpcodeStackLoad, ssa.OpcodeStackStore,
				ssa.OpcodeLoad, ssa.OpcodeStore,
				ssa.OpcodeJump, ssa.OpcodeBrif, ssa.OpcodeSwitch, ssa.OpcodeReturn, ssa.OpcodeUnreachable:
			case ssa.OpcodeSextend:
				if cur.Arg().Type() == ssa.TypeI1 {
					return fmt.Errorf("%w: %s from i1", backend.ErrUnsupported, op)
				}
			default:
				return fmt.Errorf("%w: %s", backend.ErrUnsupported, op)
			}
			if rv := cur.Return(); rv.Valid() && !integer(rv.Type()) {
				return fmt.Errorf("%w: %s of %s", backend.ErrUnsupported, op, rv.Type())
			}
			switch op {
			case ssa.OpcodeStackSlot:
				if !integer(cur.StackSlotData()) {
					return fmt.Errorf("%w: stack slot of %s", backend.ErrUnsupported, cur.StackSlotData())
				}
			case ssa.OpcodeStore:
				if v, _, _ := cur.StoreData(); !integer(v.Type()) {
					return fmt.Errorf("%w: store of %s", backend.ErrUnsupported, v.Type())
				}
			case ssa.OpcodeStackStore:
				if v, _ := cur.Arg2(); !integer(v.Type()) {
					return fmt.Errorf("%w: stack store of %s", backend.ErrUnsupported, v.Type())
				}
			}
		}
	}
	return nil
}

// functionCompiler emits one function. The frame below BP holds, in order, the value slots, the
// phi shadow slots written on edges, and the stack slots of StackSlot instructions.
type functionCompiler struct {
	a  *assembler
	fn *ssa.Function

	phiShadow  map[ssa.ValueID]int64
	stackSlots map[ssa.ValueID]int64
	frameSize  int64

	// labels are the first instructions of emitted blocks.
	labels map[ssa.BasicBlockID]*obj.Prog
	// pending are branches to blocks not emitted yet.
	pending map[ssa.BasicBlockID][]*obj.Prog
}

func newFunctionCompiler(a *assembler, fn *ssa.Function) *functionCompiler {
	c := &functionCompiler{
		a:          a,
		fn:         fn,
		phiShadow:  map[ssa.ValueID]int64{},
		stackSlots: map[ssa.ValueID]int64{},
		labels:     map[ssa.BasicBlockID]*obj.Prog{},
		pending:    map[ssa.BasicBlockID][]*obj.Prog{},
	}
	next := int64(fn.ValueCount())
	for _, blk := range fn.Blocks() {
		for cur := blk.Root(); cur != nil; cur = cur.Next() {
			switch cur.Opcode() {
			case ssa.OpcodePhi:
				next++
				c.phiShadow[cur.Return().ID()] = -8 * next
			case ssa.OpcodeStackSlot:
				next++
				c.stackSlots[cur.Return().ID()] = -8 * next
			}
		}
	}
	c.frameSize = (8*next + 15) &^ 15
	return c
}

func (c *functionCompiler) slot(v ssa.Value) int64 {
	return -8 * (int64(v.ID()) + 1)
}

func (c *functionCompiler) loadValue(v ssa.Value, r int16) {
	c.a.memToReg(x86.AMOVQ, regBP, c.slot(v), r)
}

func (c *functionCompiler) storeValue(r int16, v ssa.Value) {
	c.a.regToMem(x86.AMOVQ, r, regBP, c.slot(v))
}

func (c *functionCompiler) compile() {
	a := c.a
	a.reg(x86.APUSHQ, regBP)
	a.regToReg(x86.AMOVQ, regSP, regBP)
	a.constToReg(x86.ASUBQ, c.frameSize, regSP)
	for i, p := range c.fn.Params() {
		c.storeValue(paramRegs[i], p)
	}

	for _, blk := range c.fn.Blocks() {
		c.placeLabel(blk)
		for cur := blk.Root(); cur != nil; cur = cur.Next() {
			c.lower(blk, cur)
		}
	}
}

// placeLabel resolves branches to blk onto the next instruction.
func (c *functionCompiler) placeLabel(blk ssa.BasicBlock) {
	id := blk.ID()
	for _, br := range c.pending[id] {
		c.a.jumpToNext(br)
	}
	delete(c.pending, id)
	c.a.whenNext(func(p *obj.Prog) { c.labels[id] = p })
}

func (c *functionCompiler) branchTo(br *obj.Prog, blk ssa.BasicBlock) {
	if l, ok := c.labels[blk.ID()]; ok {
		br.To.SetTarget(l)
		return
	}
	c.pending[blk.ID()] = append(c.pending[blk.ID()], br)
}

// edge copies the values flowing from blk into the phis of succ to their shadow slots, then jumps.
func (c *functionCompiler) edge(blk, succ ssa.BasicBlock) {
	for _, phi := range succ.Phis() {
		v, ok := phi.IncomingFrom(blk)
		if !ok {
			panic(fmt.Sprintf("BUG: %s has no value from %s", phi.Return(), blk))
		}
		c.loadValue(v, regAX)
		c.a.regToMem(x86.AMOVQ, regAX, regBP, c.phiShadow[phi.Return().ID()])
	}
	c.branchTo(c.a.jump(obj.AJMP), succ)
}

func (c *functionCompiler) epilogue() {
	c.a.regToReg(x86.AMOVQ, regBP, regSP)
	c.a.toReg(x86.APOPQ, regBP)
	c.a.none(obj.ARET)
}

var binaryOps = map[ssa.Opcode][2]obj.As{
	ssa.OpcodeIadd: {x86.AADDL, x86.AADDQ},
	ssa.OpcodeIsub: {x86.ASUBL, x86.ASUBQ},
	ssa.OpcodeImul: {x86.AIMULL, x86.AIMULQ},
	ssa.OpcodeBand: {x86.AANDL, x86.AANDQ},
	ssa.OpcodeBor:  {x86.AORL, x86.AORQ},
	ssa.OpcodeBxor: {x86.AXORL, x86.AXORQ},
	ssa.OpcodeIshl: {x86.ASHLL, x86.ASHLQ},
	ssa.OpcodeUshr: {x86.ASHRL, x86.ASHRQ},
	ssa.OpcodeSshr: {x86.ASARL, x86.ASARQ},
}

var setcc = map[ssa.IntegerCmpCond]obj.As{
	ssa.IntegerCmpCondEqual:                      x86.ASETEQ,
	ssa.IntegerCmpCondNotEqual:                   x86.ASETNE,
	ssa.IntegerCmpCondSignedLessThan:             x86.ASETLT,
	ssa.IntegerCmpCondSignedGreaterThanOrEqual:   x86.ASETGE,
	ssa.IntegerCmpCondSignedGreaterThan:          x86.ASETGT,
	ssa.IntegerCmpCondSignedLessThanOrEqual:      x86.ASETLE,
	ssa.IntegerCmpCondUnsignedLessThan:           x86.ASETCS,
	ssa.IntegerCmpCondUnsignedGreaterThanOrEqual: x86.ASETCC,
	ssa.IntegerCmpCondUnsignedGreaterThan:        x86.ASETHI,
	ssa.IntegerCmpCondUnsignedLessThanOrEqual:    x86.ASETLS,
}

// width picks the 32-bit or 64-bit form of an instruction. 32-bit forms clear the upper half of
// their destination, which keeps i32 slots zero-extended.
func width(t ssa.Type, ops [2]obj.As) obj.As {
	if t == ssa.TypeI64 || t == ssa.TypePtr {
		return ops[1]
	}
	return ops[0]
}

func (c *functionCompiler) lower(blk ssa.BasicBlock, instr *ssa.Instruction) {
	a := c.a
	rv := instr.Return()
	switch op := instr.Opcode(); op {
	case ssa.OpcodePhi:
		a.memToReg(x86.AMOVQ, regBP, c.phiShadow[rv.ID()], regAX)
		c.storeValue(regAX, rv)

	case ssa.OpcodeIconst:
		a.constToReg(x86.AMOVQ, int64(instr.ConstantVal()), regAX)
		c.storeValue(regAX, rv)

	case ssa.OpcodeIshl, ssa.OpcodeUshr, ssa.OpcodeSshr:
		x, y := instr.Arg2()
		c.loadValue(y, regCX)
		c.loadValue(x, regAX)
		a.regToReg(width(rv.Type(), binaryOps[op]), regCX, regAX)
		c.storeValue(regAX, rv)
	case ssa.OpcodeIadd, ssa.OpcodeIsub, ssa.OpcodeImul, ssa.OpcodeBand, ssa.OpcodeBor, ssa.OpcodeBxor:
		x, y := instr.Arg2()
		c.loadValue(x, regAX)
		a.memToReg(width(rv.Type(), binaryOps[op]), regBP, c.slot(y), regAX)
		c.storeValue(regAX, rv)

	case ssa.OpcodeIcmp:
		x, y, cond := instr.IcmpData()
		c.loadValue(x, regAX)
		c.loadValue(y, regCX)
		a.regToReg(width(x.Type(), [2]obj.As{x86.ACMPL, x86.ACMPQ}), regAX, regCX)
		a.toReg(setcc[cond], x86.REG_AL)
		a.regToReg(x86.AMOVBQZX, x86.REG_AL, regAX)
		c.storeValue(regAX, rv)

	case ssa.OpcodeUextend, ssa.OpcodePtrToInt, ssa.OpcodeIntToPtr:
		c.loadValue(instr.Arg(), regAX)
		c.storeValue(regAX, rv)
	case ssa.OpcodeIreduce:
		a.memToReg(x86.AMOVL, regBP, c.slot(instr.Arg()), regAX)
		c.storeValue(regAX, rv)
	case ssa.OpcodeSextend:
		a.memToReg(x86.AMOVLQSX, regBP, c.slot(instr.Arg()), regAX)
		c.storeValue(regAX, rv)

	case ssa.OpcodeSelect:
		cond, x, y := instr.SelectData()
		c.loadValue(y, regAX)
		c.loadValue(cond, regCX)
		a.regToReg(x86.ATESTQ, regCX, regCX)
		a.memToReg(x86.ACMOVQNE, regBP, c.slot(x), regAX)
		c.storeValue(regAX, rv)
	case ssa.OpcodeGep:
		base, off := instr.Arg2()
		c.loadValue(base, regAX)
		a.memToReg(x86.AADDQ, regBP, c.slot(off), regAX)
		c.storeValue(regAX, rv)

	case ssa.OpcodeStackSlot:
		a.memToReg(x86.ALEAQ, regBP, c.stackSlots[rv.ID()], regAX)
		c.storeValue(regAX, rv)
	case ssa.OpcodeStackLoad:
		c.loadValue(instr.Arg(), regCX)
		a.memToReg(x86.AMOVQ, regCX, 0, regAX)
		c.storeValue(regAX, rv)
	case ssa.OpcodeStackStore:
		v, slot := instr.Arg2()
		c.loadValue(slot, regCX)
		c.loadValue(v, regAX)
		a.regToMem(x86.AMOVQ, regAX, regCX, 0)

	case ssa.OpcodeLoad:
		ptr, typ, access := instr.LoadData()
		c.loadValue(ptr, regCX)
		a.memToReg(loadOp(typ, access), regCX, 0, regAX)
		c.storeValue(regAX, rv)
	case ssa.OpcodeStore:
		v, ptr, access := instr.StoreData()
		c.loadValue(ptr, regCX)
		c.loadValue(v, regAX)
		a.regToMem(storeOps[access.Size], regAX, regCX, 0)

	case ssa.OpcodeJump:
		c.edge(blk, instr.JumpTarget())
	case ssa.OpcodeBrif:
		cond, then, els := instr.BrifData()
		c.loadValue(cond, regAX)
		a.regToReg(x86.ATESTQ, regAX, regAX)
		toEls := a.jump(x86.AJEQ)
		c.edge(blk, then)
		a.jumpToNext(toEls)
		c.edge(blk, els)
	case ssa.OpcodeSwitch:
		sel, def, targets := instr.SwitchData()
		c.loadValue(sel, regAX)
		for i, t := range targets {
			a.regToConst(x86.ACMPQ, regAX, int64(i))
			skip := a.jump(x86.AJNE)
			c.edge(blk, t)
			a.jumpToNext(skip)
			// The edge clobbers AX.
			c.loadValue(sel, regAX)
		}
		c.edge(blk, def)
	case ssa.OpcodeReturn:
		if v := instr.ReturnValue(); v.Valid() {
			c.loadValue(v, regAX)
		}
		c.epilogue()
	case ssa.OpcodeUnreachable:
		a.none(x86.AUD2)

	default:
		panic(fmt.Sprintf("BUG: %s passed the support check", op))
	}
}

var storeOps = map[byte]obj.As{1: x86.AMOVB, 2: x86.AMOVW, 4: x86.AMOVL, 8: x86.AMOVQ}

func loadOp(typ ssa.Type, access ssa.MemoryAccess) obj.As {
	wide := typ == ssa.TypeI64 || typ == ssa.TypePtr
	switch {
	case access.Size == 8:
		return x86.AMOVQ
	case access.Size == 4 && access.Signed && wide:
		return x86.AMOVLQSX
	case access.Size == 4:
		return x86.AMOVL
	case access.Size == 2 && access.Signed:
		return width(typ, [2]obj.As{x86.AMOVWLSX, x86.AMOVWQSX})
	case access.Size == 2:
		return x86.AMOVWLZX
	case access.Signed:
		return width(typ, [2]obj.As{x86.AMOVBLSX, x86.AMOVBQSX})
	default:
		return x86.AMOVBLZX
	}
}
