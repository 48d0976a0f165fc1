package interp

import (
	"context"
	"fmt"
	"math"
	"unsafe"

	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// cancelCheckInterval is the number of block transitions between checks of the call context.
const cancelCheckInterval = 1024

type frame struct {
	values []value
	slots  []value
}

func (f *frame) get(v ssa.Value) value {
	return f.values[v.ID()]
}

func (f *frame) set(v ssa.Value, x value) {
	f.values[v.ID()] = x
}

func (m *Module) exec(ctx context.Context, fn *ssa.Function, args []value, depth int) (value, error) {
	if depth >= m.maxCallDepth {
		return value{}, wasm.ErrRuntimeCallStackOverflow
	}
	fr := &frame{values: make([]value, fn.ValueCount())}
	for i, p := range fn.Params() {
		fr.set(p, args[i])
	}

	var prev ssa.BasicBlock
	blk := fn.Blocks()[0]
	for transitions := 1; ; transitions++ {
		if transitions%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return value{}, fmt.Errorf("execution interrupted: %w", err)
			}
		}
		if prev != nil {
			enterBlock(fr, blk, prev)
		}

		var next ssa.BasicBlock
		for cur := blk.Root(); cur != nil; cur = cur.Next() {
			switch cur.Opcode() {
			case ssa.OpcodePhi:
			case ssa.OpcodeJump:
				next = cur.JumpTarget()
			case ssa.OpcodeBrif:
				c, then, els := cur.BrifData()
				if fr.get(c).lo != 0 {
					next = then
				} else {
					next = els
				}
			case ssa.OpcodeSwitch:
				sel, def, targets := cur.SwitchData()
				idx := fr.get(sel).lo
				if idx < uint64(len(targets)) {
					next = targets[idx]
				} else {
					next = def
				}
			case ssa.OpcodeReturn:
				if rv := cur.ReturnValue(); rv.Valid() {
					return fr.get(rv), nil
				}
				return value{}, nil
			case ssa.OpcodeUnreachable:
				return value{}, wasm.ErrRuntimeUnreachable
			case ssa.OpcodeCall:
				ret, err := m.call(ctx, fr, cur, depth)
				if err != nil {
					return value{}, err
				}
				if rv := cur.Return(); rv.Valid() {
					fr.set(rv, ret)
				}
			default:
				m.step(fr, cur)
			}
		}
		if next == nil {
			panic(fmt.Sprintf("BUG: %s has no terminator", blk))
		}
		prev, blk = blk, next
	}
}

// enterBlock assigns the phis of blk the values flowing in from prev. All incoming values are read
// before any phi is written.
func enterBlock(fr *frame, blk, prev ssa.BasicBlock) {
	phis := blk.Phis()
	if len(phis) == 0 {
		return
	}
	incoming := make([]value, len(phis))
	for i, phi := range phis {
		v, ok := phi.IncomingFrom(prev)
		if !ok {
			panic(fmt.Sprintf("BUG: %s has no value from %s", phi.Return(), prev))
		}
		incoming[i] = fr.get(v)
	}
	for i, phi := range phis {
		fr.set(phi.Return(), incoming[i])
	}
}

func (m *Module) call(ctx context.Context, fr *frame, instr *ssa.Instruction, depth int) (value, error) {
	ref, _, argVs := instr.CallData()
	callee := &m.functions[ref]
	args := make([]value, len(argVs))
	for i, a := range argVs {
		args[i] = fr.get(a)
	}
	if callee.body != nil {
		return m.exec(ctx, callee.body, args, depth+1)
	}

	sig := callee.decl.Signature
	words := make([]uint64, 0, len(args))
	for i, a := range args {
		words = append(words, flatten(sig.Params[i], a)...)
	}
	results, err := callee.host(ctx, words)
	if err != nil {
		return value{}, err
	}
	rt := sig.Result()
	if rt == ssa.TypeInvalid {
		return value{}, nil
	}
	ret, err := unflatten([]ssa.Type{rt}, results)
	if err != nil {
		return value{}, fmt.Errorf("result of %s: %w", callee.decl.Name, err)
	}
	return ret[0], nil
}

// step executes an instruction that neither transfers control nor calls.
func (m *Module) step(fr *frame, instr *ssa.Instruction) {
	rv := instr.Return()
	typ := rv.Type()
	switch op := instr.Opcode(); op {
	case ssa.OpcodeIconst, ssa.OpcodeF32const, ssa.OpcodeF64const:
		fr.set(rv, value{lo: instr.ConstantVal()})
	case ssa.OpcodeVconst:
		lo, hi := instr.VconstData()
		fr.set(rv, value{lo: lo, hi: hi})

	case ssa.OpcodeIadd, ssa.OpcodeIsub, ssa.OpcodeImul, ssa.OpcodeBand, ssa.OpcodeBor, ssa.OpcodeBxor,
		ssa.OpcodeIshl, ssa.OpcodeUshr, ssa.OpcodeSshr:
		x, y := instr.Arg2()
		fr.set(rv, value{lo: intBinary(op, typ, fr.get(x).lo, fr.get(y).lo)})
	case ssa.OpcodeFadd, ssa.OpcodeFsub, ssa.OpcodeFmul, ssa.OpcodeFdiv:
		x, y := instr.Arg2()
		fr.set(rv, value{lo: floatBinary(op, typ, fr.get(x).lo, fr.get(y).lo)})
	case ssa.OpcodeIcmp:
		x, y, c := instr.IcmpData()
		fr.set(rv, boolValue(icmp(c, x.Type(), fr.get(x).lo, fr.get(y).lo)))
	case ssa.OpcodeFcmp:
		x, y, c := instr.FcmpData()
		fr.set(rv, boolValue(fcmp(c, x.Type(), fr.get(x).lo, fr.get(y).lo)))

	case ssa.OpcodeUextend, ssa.OpcodeIreduce:
		fr.set(rv, value{lo: mask(typ, fr.get(instr.Arg()).lo)})
	case ssa.OpcodeSextend:
		x := instr.Arg()
		fr.set(rv, value{lo: mask(typ, signExtend(fr.get(x).lo, x.Type().Bits()))})
	case ssa.OpcodeBitcast, ssa.OpcodePtrToInt, ssa.OpcodeIntToPtr:
		fr.set(rv, fr.get(instr.Arg()))
	case ssa.OpcodeSelect:
		c, x, y := instr.SelectData()
		if fr.get(c).lo != 0 {
			fr.set(rv, fr.get(x))
		} else {
			fr.set(rv, fr.get(y))
		}
	case ssa.OpcodeGep:
		base, off := instr.Arg2()
		fr.set(rv, value{lo: fr.get(base).lo + fr.get(off).lo})
	case ssa.OpcodeSymbol:
		fr.set(rv, value{lo: m.symbols[instr.SymbolData()]})

	case ssa.OpcodeStackSlot:
		// Slot "addresses" are indexes into the frame.
		fr.set(rv, value{lo: uint64(len(fr.slots))})
		fr.slots = append(fr.slots, value{})
	case ssa.OpcodeStackLoad:
		fr.set(rv, fr.slots[fr.get(instr.Arg()).lo])
	case ssa.OpcodeStackStore:
		v, slot := instr.Arg2()
		fr.slots[fr.get(slot).lo] = fr.get(v)

	case ssa.OpcodeLoad:
		ptr, typ, access := instr.LoadData()
		v := load(uintptr(fr.get(ptr).lo), access.Size)
		if access.Signed && access.Size < 8 {
			v.lo = signExtend(v.lo, access.Size*8)
		}
		v.lo = mask(typ, v.lo)
		fr.set(rv, v)
	case ssa.OpcodeStore:
		v, ptr, access := instr.StoreData()
		store(uintptr(fr.get(ptr).lo), access.Size, fr.get(v))

	default:
		panic(fmt.Sprintf("BUG: cannot execute %s", op))
	}
}

func boolValue(b bool) value {
	if b {
		return value{lo: 1}
	}
	return value{}
}

// mask clears the bits above the width of typ.
func mask(typ ssa.Type, v uint64) uint64 {
	switch typ {
	case ssa.TypeI1:
		return v & 1
	case ssa.TypeI32, ssa.TypeF32:
		return uint64(uint32(v))
	default:
		return v
	}
}

func signExtend(v uint64, bits byte) uint64 {
	shift := 64 - bits
	return uint64(int64(v<<shift) >> shift)
}

func intBinary(op ssa.Opcode, typ ssa.Type, x, y uint64) uint64 {
	bits := uint64(typ.Bits())
	var ret uint64
	switch op {
	case ssa.OpcodeIadd:
		ret = x + y
	case ssa.OpcodeIsub:
		ret = x - y
	case ssa.OpcodeImul:
		ret = x * y
	case ssa.OpcodeBand:
		ret = x & y
	case ssa.OpcodeBor:
		ret = x | y
	case ssa.OpcodeBxor:
		ret = x ^ y
	case ssa.OpcodeIshl:
		ret = x << (y % bits)
	case ssa.OpcodeUshr:
		ret = mask(typ, x) >> (y % bits)
	case ssa.OpcodeSshr:
		ret = uint64(int64(signExtend(x, byte(bits))) >> (y % bits))
	}
	return mask(typ, ret)
}

func floatBinary(op ssa.Opcode, typ ssa.Type, x, y uint64) uint64 {
	if typ == ssa.TypeF32 {
		a, b := math.Float32frombits(uint32(x)), math.Float32frombits(uint32(y))
		var r float32
		switch op {
		case ssa.OpcodeFadd:
			r = a + b
		case ssa.OpcodeFsub:
			r = a - b
		case ssa.OpcodeFmul:
			r = a * b
		case ssa.OpcodeFdiv:
			r = a / b
		}
		return uint64(math.Float32bits(r))
	}
	a, b := math.Float64frombits(x), math.Float64frombits(y)
	var r float64
	switch op {
	case ssa.OpcodeFadd:
		r = a + b
	case ssa.OpcodeFsub:
		r = a - b
	case ssa.OpcodeFmul:
		r = a * b
	case ssa.OpcodeFdiv:
		r = a / b
	}
	return math.Float64bits(r)
}

func icmp(c ssa.IntegerCmpCond, typ ssa.Type, x, y uint64) bool {
	sx, sy := int64(signExtend(x, typ.Bits())), int64(signExtend(y, typ.Bits()))
	switch c {
	case ssa.IntegerCmpCondEqual:
		return x == y
	case ssa.IntegerCmpCondNotEqual:
		return x != y
	case ssa.IntegerCmpCondSignedLessThan:
		return sx < sy
	case ssa.IntegerCmpCondSignedGreaterThanOrEqual:
		return sx >= sy
	case ssa.IntegerCmpCondSignedGreaterThan:
		return sx > sy
	case ssa.IntegerCmpCondSignedLessThanOrEqual:
		return sx <= sy
	case ssa.IntegerCmpCondUnsignedLessThan:
		return x < y
	case ssa.IntegerCmpCondUnsignedGreaterThanOrEqual:
		return x >= y
	case ssa.IntegerCmpCondUnsignedGreaterThan:
		return x > y
	case ssa.IntegerCmpCondUnsignedLessThanOrEqual:
		return x <= y
	}
	panic(fmt.Sprintf("BUG: invalid integer condition %d", c))
}

func fcmp(c ssa.FloatCmpCond, typ ssa.Type, x, y uint64) bool {
	var a, b float64
	if typ == ssa.TypeF32 {
		a, b = float64(math.Float32frombits(uint32(x))), float64(math.Float32frombits(uint32(y)))
	} else {
		a, b = math.Float64frombits(x), math.Float64frombits(y)
	}
	switch c {
	case ssa.FloatCmpCondEqual:
		return a == b
	case ssa.FloatCmpCondNotEqual:
		return a != b
	case ssa.FloatCmpCondLessThan:
		return a < b
	case ssa.FloatCmpCondLessThanOrEqual:
		return a <= b
	case ssa.FloatCmpCondGreaterThan:
		return a > b
	case ssa.FloatCmpCondGreaterThanOrEqual:
		return a >= b
	}
	panic(fmt.Sprintf("BUG: invalid float condition %d", c))
}

func load(addr uintptr, size byte) (v value) {
	p := unsafe.Pointer(addr)
	switch size {
	case 1:
		v.lo = uint64(*(*uint8)(p))
	case 2:
		v.lo = uint64(*(*uint16)(p))
	case 4:
		v.lo = uint64(*(*uint32)(p))
	case 8:
		v.lo = *(*uint64)(p)
	case 16:
		v.lo = *(*uint64)(p)
		v.hi = *(*uint64)(unsafe.Add(p, 8))
	default:
		panic(fmt.Sprintf("BUG: load of %d bytes", size))
	}
	return
}

func store(addr uintptr, size byte, v value) {
	p := unsafe.Pointer(addr)
	switch size {
	case 1:
		*(*uint8)(p) = uint8(v.lo)
	case 2:
		*(*uint16)(p) = uint16(v.lo)
	case 4:
		*(*uint32)(p) = uint32(v.lo)
	case 8:
		*(*uint64)(p) = v.lo
	case 16:
		*(*uint64)(p) = v.lo
		*(*uint64)(unsafe.Add(p, 8)) = v.hi
	default:
		panic(fmt.Sprintf("BUG: store of %d bytes", size))
	}
}
