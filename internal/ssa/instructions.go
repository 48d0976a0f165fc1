package ssa

import (
	"fmt"
	"math"
	"strings"
)

// Opcode represents a SSA instruction.
type Opcode uint32

// Instruction represents an instruction whose opcode is specified by
// Opcode. Since Go doesn't have union type, we use this flattened type
// for all instructions, and therefore each field has different meaning
// depending on Opcode.
type Instruction struct {
	opcode    Opcode
	u1, u2    uint64
	v, v2, v3 Value
	vs        []Value
	blks      []*basicBlock
	// typ is the type of rValue, or invalid if the instruction produces nothing.
	typ        Type
	blk        *basicBlock
	prev, next *Instruction
	rValue     Value
}

func (i *Instruction) reset() {
	*i = Instruction{}
	i.v = ValueInvalid
	i.v2 = ValueInvalid
	i.v3 = ValueInvalid
	i.rValue = ValueInvalid
}

// Opcode returns the opcode of this instruction.
func (i *Instruction) Opcode() Opcode {
	return i.opcode
}

// Return returns the Value produced by this instruction, or ValueInvalid.
func (i *Instruction) Return() Value {
	return i.rValue
}

// Arg returns the first argument to this instruction.
func (i *Instruction) Arg() Value {
	return i.v
}

// Arg2 returns the first two arguments to this instruction.
func (i *Instruction) Arg2() (Value, Value) {
	return i.v, i.v2
}

// Args returns the arguments to this instruction.
func (i *Instruction) Args() (v1, v2, v3 Value, vs []Value) {
	return i.v, i.v2, i.v3, i.vs
}

// Next returns the next instruction laid out next to itself.
func (i *Instruction) Next() *Instruction {
	return i.next
}

// Prev returns the previous instruction laid out prior to itself.
func (i *Instruction) Prev() *Instruction {
	return i.prev
}

// Block returns the BasicBlock this instruction was inserted into, or nil.
func (i *Instruction) Block() BasicBlock {
	if i.blk == nil {
		return nil
	}
	return i.blk
}

// IsTerminator returns true if the instruction must end its block.
func (i *Instruction) IsTerminator() bool {
	return i.opcode.IsTerminator()
}

// IsTerminator returns true if instructions of the opcode end their block.
func (o Opcode) IsTerminator() bool {
	switch o {
	case OpcodeJump, OpcodeBrif, OpcodeSwitch, OpcodeReturn, OpcodeUnreachable:
		return true
	default:
		return false
	}
}

const (
	OpcodeInvalid Opcode = iota

	// OpcodeIconst materializes an integer constant: `v = Iconst imm` with type I1, I32 or I64.
	OpcodeIconst

	// OpcodeF32const materializes a 32-bit float constant: `v = F32const imm`.
	OpcodeF32const

	// OpcodeF64const materializes a 64-bit float constant: `v = F64const imm`.
	OpcodeF64const

	// OpcodeVconst materializes a 128-bit constant as two i64 lanes: `v = Vconst lo, hi`.
	OpcodeVconst

	// OpcodeIadd performs an integer addition: `v = Iadd x, y`.
	OpcodeIadd

	// OpcodeIsub performs an integer subtraction: `v = Isub x, y`.
	OpcodeIsub

	// OpcodeImul performs an integer multiplication: `v = Imul x, y`.
	OpcodeImul

	// OpcodeBand performs a binary and: `v = Band x, y`.
	OpcodeBand

	// OpcodeBor performs a binary or: `v = Bor x, y`.
	OpcodeBor

	// OpcodeBxor performs a binary xor: `v = Bxor x, y`.
	OpcodeBxor

	// OpcodeIshl does logical shift left: `v = Ishl x, y`. The amount is taken modulo the bit width.
	OpcodeIshl

	// OpcodeUshr does logical shift right: `v = Ushr x, y`.
	OpcodeUshr

	// OpcodeSshr does arithmetic shift right: `v = Sshr x, y`.
	OpcodeSshr

	// OpcodeIcmp compares two integer values with the given condition: `v = Icmp cond, x, y`.
	OpcodeIcmp

	// OpcodeFadd performs a floating point addition: `v = Fadd x, y`.
	OpcodeFadd

	// OpcodeFsub performs a floating point subtraction: `v = Fsub x, y`.
	OpcodeFsub

	// OpcodeFmul performs a floating point multiplication: `v = Fmul x, y`.
	OpcodeFmul

	// OpcodeFdiv performs a floating point division: `v = Fdiv x, y`.
	OpcodeFdiv

	// OpcodeFcmp compares two floating point values: `v = Fcmp cond, x, y`.
	OpcodeFcmp

	// OpcodeUextend zero-extends the given integer: `v = Uextend x`.
	OpcodeUextend

	// OpcodeSextend sign-extends the given integer: `v = Sextend x`.
	OpcodeSextend

	// OpcodeIreduce narrows the given integer: `v = Ireduce x`.
	OpcodeIreduce

	// OpcodeBitcast reinterprets the bits of x as another type of the same width: `v = Bitcast x`.
	OpcodeBitcast

	// OpcodePtrToInt converts a pointer to an i64: `v = PtrToInt p`.
	OpcodePtrToInt

	// OpcodeIntToPtr converts an i64 to a pointer: `p = IntToPtr x`.
	OpcodeIntToPtr

	// OpcodeSelect chooses between two values based on an i1 condition: `v = Select c, x, y`.
	OpcodeSelect

	// OpcodeGep offsets a pointer by a byte count: `p = Gep base, off`.
	OpcodeGep

	// OpcodeSymbol reads the value of an imported constant: `v = Symbol sym`.
	OpcodeSymbol

	// OpcodeStackSlot allocates a stack slot in the function's frame: `p = StackSlot typ`.
	// It is only valid in the entry block.
	OpcodeStackSlot

	// OpcodeStackLoad reads a stack slot: `v = StackLoad p`.
	OpcodeStackLoad

	// OpcodeStackStore writes a stack slot: `StackStore v, p`.
	OpcodeStackStore

	// OpcodeLoad loads a value from memory: `v = Load p`. Narrow loads extend to the result type.
	OpcodeLoad

	// OpcodeStore stores a value to memory: `Store v, p`. Narrow stores truncate.
	OpcodeStore

	// OpcodeCall calls a declared function: `v = Call f, args...`.
	OpcodeCall

	// OpcodePhi merges the incoming values of the predecessors: `v = Phi [x, blk1], [y, blk2]`.
	// Phis are always at the head of their block.
	OpcodePhi

	// OpcodeJump takes the unconditional branch: `Jump blk`.
	OpcodeJump

	// OpcodeBrif branches on an i1 condition: `Brif c, then, else`.
	OpcodeBrif

	// OpcodeSwitch branches to targets[selector], or to the default target when out of range:
	// `Switch x, default, [targets...]`.
	OpcodeSwitch

	// OpcodeReturn returns from the function: `Return` or `Return v`.
	OpcodeReturn

	// OpcodeUnreachable marks the end of a block control can never leave normally: `Unreachable`.
	OpcodeUnreachable

	opcodeEnd
)

// String implements fmt.Stringer.
func (o Opcode) String() (ret string) {
	switch o {
	case OpcodeInvalid:
		return "invalid"
	case OpcodeIconst:
		return "Iconst"
	case OpcodeF32const:
		return "F32const"
	case OpcodeF64const:
		return "F64const"
	case OpcodeVconst:
		return "Vconst"
	case OpcodeIadd:
		return "Iadd"
	case OpcodeIsub:
		return "Isub"
	case OpcodeImul:
		return "Imul"
	case OpcodeBand:
		return "Band"
	case OpcodeBor:
		return "Bor"
	case OpcodeBxor:
		return "Bxor"
	case OpcodeIshl:
		return "Ishl"
	case OpcodeUshr:
		return "Ushr"
	case OpcodeSshr:
		return "Sshr"
	case OpcodeIcmp:
		return "Icmp"
	case OpcodeFadd:
		return "Fadd"
	case OpcodeFsub:
		return "Fsub"
	case OpcodeFmul:
		return "Fmul"
	case OpcodeFdiv:
		return "Fdiv"
	case OpcodeFcmp:
		return "Fcmp"
	case OpcodeUextend:
		return "Uextend"
	case OpcodeSextend:
		return "Sextend"
	case OpcodeIreduce:
		return "Ireduce"
	case OpcodeBitcast:
		return "Bitcast"
	case OpcodePtrToInt:
		return "PtrToInt"
	case OpcodeIntToPtr:
		return "IntToPtr"
	case OpcodeSelect:
		return "Select"
	case OpcodeGep:
		return "Gep"
	case OpcodeSymbol:
		return "Symbol"
	case OpcodeStackSlot:
		return "StackSlot"
	case OpcodeStackLoad:
		return "StackLoad"
	case OpcodeStackStore:
		return "StackStore"
	case OpcodeLoad:
		return "Load"
	case OpcodeStore:
		return "Store"
	case OpcodeCall:
		return "Call"
	case OpcodePhi:
		return "Phi"
	case OpcodeJump:
		return "Jump"
	case OpcodeBrif:
		return "Brif"
	case OpcodeSwitch:
		return "Switch"
	case OpcodeReturn:
		return "Return"
	case OpcodeUnreachable:
		return "Unreachable"
	}
	panic(fmt.Sprintf("unknown opcode %d", o))
}

// MemoryAccess describes the width and attributes of a Load or Store.
type MemoryAccess struct {
	// Size is the number of bytes accessed. It may be smaller than the value type for narrow accesses.
	Size byte
	// Signed makes narrow loads sign-extend instead of zero-extend.
	Signed bool
	// AlignLog2 is the alignment hint as a power of two.
	AlignLog2 byte
	// Volatile accesses must not be merged, reordered or removed.
	Volatile bool
}

func (a MemoryAccess) encode() uint64 {
	ret := uint64(a.Size) | uint64(a.AlignLog2)<<8
	if a.Signed {
		ret |= 1 << 16
	}
	if a.Volatile {
		ret |= 1 << 17
	}
	return ret
}

func decodeMemoryAccess(u uint64) MemoryAccess {
	return MemoryAccess{
		Size:      byte(u),
		AlignLog2: byte(u >> 8),
		Signed:    u&(1<<16) != 0,
		Volatile:  u&(1<<17) != 0,
	}
}

// String implements fmt.Stringer.
func (a MemoryAccess) String() string {
	var str strings.Builder
	fmt.Fprintf(&str, "size=%d align=%d", a.Size, 1<<a.AlignLog2)
	if a.Signed {
		str.WriteString(" signed")
	}
	if a.Volatile {
		str.WriteString(" volatile")
	}
	return str.String()
}

// AsIconst32 initializes this instruction as an integer constant instruction with OpcodeIconst.
func (i *Instruction) AsIconst32(v uint32) *Instruction {
	return i.AsIconst(TypeI32, uint64(v))
}

// AsIconst64 initializes this instruction as a 64-bit integer constant instruction with OpcodeIconst.
func (i *Instruction) AsIconst64(v uint64) *Instruction {
	return i.AsIconst(TypeI64, v)
}

// AsIconst initializes this instruction as an integer constant of the given integer type.
func (i *Instruction) AsIconst(typ Type, v uint64) *Instruction {
	if !typ.IsInt() {
		panic(fmt.Sprintf("BUG: Iconst of type %s", typ))
	}
	i.opcode = OpcodeIconst
	i.typ = typ
	switch typ {
	case TypeI1:
		i.u1 = v & 1
	case TypeI32:
		i.u1 = uint64(uint32(v))
	default:
		i.u1 = v
	}
	return i
}

// AsF32const initializes this instruction as a 32-bit floating-point constant instruction with OpcodeF32const.
func (i *Instruction) AsF32const(f float32) *Instruction {
	i.opcode = OpcodeF32const
	i.typ = TypeF32
	i.u1 = uint64(math.Float32bits(f))
	return i
}

// AsF64const initializes this instruction as a 64-bit floating-point constant instruction with OpcodeF64const.
func (i *Instruction) AsF64const(f float64) *Instruction {
	i.opcode = OpcodeF64const
	i.typ = TypeF64
	i.u1 = math.Float64bits(f)
	return i
}

// AsVconst initializes this instruction as a vector constant with OpcodeVconst. The result has type
// TypeI64x2.
func (i *Instruction) AsVconst(lo, hi uint64) *Instruction {
	i.opcode = OpcodeVconst
	i.typ = TypeI64x2
	i.u1, i.u2 = lo, hi
	return i
}

// ConstantVal returns the bits of an Iconst, F32const or F64const, or the low lane of a Vconst.
func (i *Instruction) ConstantVal() uint64 {
	switch i.opcode {
	case OpcodeIconst, OpcodeF32const, OpcodeF64const, OpcodeVconst:
		return i.u1
	}
	panic(fmt.Sprintf("BUG: ConstantVal on %s", i.opcode))
}

// VconstData returns the lanes of a Vconst.
func (i *Instruction) VconstData() (lo, hi uint64) {
	return i.u1, i.u2
}

func (i *Instruction) asBinary(op Opcode, x, y Value) *Instruction {
	if x.Type() != y.Type() {
		panic(fmt.Sprintf("BUG: %s operands of different types: %s and %s", op, x.Type(), y.Type()))
	}
	i.opcode = op
	i.v, i.v2 = x, y
	i.typ = x.Type()
	return i
}

// AsIadd initializes this instruction as an integer addition instruction with OpcodeIadd.
func (i *Instruction) AsIadd(x, y Value) *Instruction { return i.asBinary(OpcodeIadd, x, y) }

// AsIsub initializes this instruction as an integer subtraction instruction with OpcodeIsub.
func (i *Instruction) AsIsub(x, y Value) *Instruction { return i.asBinary(OpcodeIsub, x, y) }

// AsImul initializes this instruction as an integer multiplication instruction with OpcodeImul.
func (i *Instruction) AsImul(x, y Value) *Instruction { return i.asBinary(OpcodeImul, x, y) }

// AsBand initializes this instruction as an integer bitwise and instruction with OpcodeBand.
func (i *Instruction) AsBand(x, y Value) *Instruction { return i.asBinary(OpcodeBand, x, y) }

// AsBor initializes this instruction as an integer bitwise or instruction with OpcodeBor.
func (i *Instruction) AsBor(x, y Value) *Instruction { return i.asBinary(OpcodeBor, x, y) }

// AsBxor initializes this instruction as an integer bitwise xor instruction with OpcodeBxor.
func (i *Instruction) AsBxor(x, y Value) *Instruction { return i.asBinary(OpcodeBxor, x, y) }

// AsIshl initializes this instruction as an integer shift left instruction with OpcodeIshl.
func (i *Instruction) AsIshl(x, amount Value) *Instruction { return i.asBinary(OpcodeIshl, x, amount) }

// AsUshr initializes this instruction as an integer unsigned shift right (logical shift right) instruction with OpcodeUshr.
func (i *Instruction) AsUshr(x, amount Value) *Instruction { return i.asBinary(OpcodeUshr, x, amount) }

// AsSshr initializes this instruction as an integer signed shift right (arithmetic shift right) instruction with OpcodeSshr.
func (i *Instruction) AsSshr(x, amount Value) *Instruction { return i.asBinary(OpcodeSshr, x, amount) }

// AsFadd initializes this instruction as a floating-point addition instruction with OpcodeFadd.
func (i *Instruction) AsFadd(x, y Value) *Instruction { return i.asBinary(OpcodeFadd, x, y) }

// AsFsub initializes this instruction as a floating-point subtraction instruction with OpcodeFsub.
func (i *Instruction) AsFsub(x, y Value) *Instruction { return i.asBinary(OpcodeFsub, x, y) }

// AsFmul initializes this instruction as a floating-point multiplication instruction with OpcodeFmul.
func (i *Instruction) AsFmul(x, y Value) *Instruction { return i.asBinary(OpcodeFmul, x, y) }

// AsFdiv initializes this instruction as a floating-point division instruction with OpcodeFdiv.
func (i *Instruction) AsFdiv(x, y Value) *Instruction { return i.asBinary(OpcodeFdiv, x, y) }

// AsIcmp initializes this instruction as an integer comparison instruction with OpcodeIcmp.
func (i *Instruction) AsIcmp(x, y Value, c IntegerCmpCond) *Instruction {
	i.asBinary(OpcodeIcmp, x, y)
	i.u1 = uint64(c)
	i.typ = TypeI1
	return i
}

// IcmpData returns the operands and comparison condition of this integer comparison instruction.
func (i *Instruction) IcmpData() (x, y Value, c IntegerCmpCond) {
	return i.v, i.v2, IntegerCmpCond(i.u1)
}

// AsFcmp initializes this instruction as a floating-point comparison instruction with OpcodeFcmp.
func (i *Instruction) AsFcmp(x, y Value, c FloatCmpCond) *Instruction {
	i.asBinary(OpcodeFcmp, x, y)
	i.u1 = uint64(c)
	i.typ = TypeI1
	return i
}

// FcmpData returns the operands and comparison condition of this floating-point comparison instruction.
func (i *Instruction) FcmpData() (x, y Value, c FloatCmpCond) {
	return i.v, i.v2, FloatCmpCond(i.u1)
}

// AsUextend initializes this instruction as an integer zero extension to typ.
func (i *Instruction) AsUextend(x Value, typ Type) *Instruction {
	return i.asConversion(OpcodeUextend, x, typ)
}

// AsSextend initializes this instruction as an integer sign extension to typ.
func (i *Instruction) AsSextend(x Value, typ Type) *Instruction {
	return i.asConversion(OpcodeSextend, x, typ)
}

// AsIreduce initializes this instruction as an integer truncation to typ.
func (i *Instruction) AsIreduce(x Value, typ Type) *Instruction {
	return i.asConversion(OpcodeIreduce, x, typ)
}

// AsBitcast initializes this instruction as a reinterpretation of x as typ.
func (i *Instruction) AsBitcast(x Value, typ Type) *Instruction {
	return i.asConversion(OpcodeBitcast, x, typ)
}

// AsPtrToInt initializes this instruction as a pointer to i64 conversion.
func (i *Instruction) AsPtrToInt(p Value) *Instruction {
	return i.asConversion(OpcodePtrToInt, p, TypeI64)
}

// AsIntToPtr initializes this instruction as an i64 to pointer conversion.
func (i *Instruction) AsIntToPtr(x Value) *Instruction {
	return i.asConversion(OpcodeIntToPtr, x, TypePtr)
}

func (i *Instruction) asConversion(op Opcode, x Value, to Type) *Instruction {
	from := x.Type()
	var ok bool
	switch op {
	case OpcodeUextend, OpcodeSextend:
		ok = from.IsInt() && to.IsInt() && from.Bits() < to.Bits()
	case OpcodeIreduce:
		ok = from.IsInt() && to.IsInt() && from.Bits() > to.Bits()
	case OpcodeBitcast:
		ok = from != to && from != TypePtr && to != TypePtr && from.Bits() == to.Bits()
	case OpcodePtrToInt:
		ok = from == TypePtr
	case OpcodeIntToPtr:
		ok = from == TypeI64
	}
	if !ok {
		panic(fmt.Sprintf("BUG: invalid %s from %s to %s", op, from, to))
	}
	i.opcode = op
	i.v = x
	i.typ = to
	return i
}

// AsSelect initializes this instruction as a select instruction with OpcodeSelect.
func (i *Instruction) AsSelect(c, x, y Value) *Instruction {
	if c.Type() != TypeI1 || x.Type() != y.Type() {
		panic(fmt.Sprintf("BUG: invalid Select operands %s, %s, %s", c.Type(), x.Type(), y.Type()))
	}
	i.opcode = OpcodeSelect
	i.v, i.v2, i.v3 = c, x, y
	i.typ = x.Type()
	return i
}

// SelectData returns the select data for this instruction necessary for backends.
func (i *Instruction) SelectData() (c, x, y Value) {
	return i.v, i.v2, i.v3
}

// AsGep initializes this instruction as a pointer offset of base by off bytes.
func (i *Instruction) AsGep(base, off Value) *Instruction {
	if base.Type() != TypePtr || off.Type() != TypeI64 {
		panic(fmt.Sprintf("BUG: invalid Gep operands %s, %s", base.Type(), off.Type()))
	}
	i.opcode = OpcodeGep
	i.v, i.v2 = base, off
	i.typ = TypePtr
	return i
}

// AsSymbol initializes this instruction as a read of the imported constant sym.
func (i *Instruction) AsSymbol(sym SymbolRef) *Instruction {
	i.opcode = OpcodeSymbol
	i.u1 = uint64(sym)
	i.typ = TypeI64
	return i
}

// SymbolData returns the imported constant read by this instruction.
func (i *Instruction) SymbolData() SymbolRef {
	return SymbolRef(i.u1)
}

// AsStackSlot initializes this instruction as a stack slot holding a value of typ.
func (i *Instruction) AsStackSlot(typ Type) *Instruction {
	i.opcode = OpcodeStackSlot
	i.u1 = uint64(typ)
	i.typ = TypePtr
	return i
}

// StackSlotData returns the type of the value held by the stack slot.
func (i *Instruction) StackSlotData() Type {
	return Type(i.u1)
}

// AsStackLoad initializes this instruction as a read of a stack slot of typ.
func (i *Instruction) AsStackLoad(slot Value, typ Type) *Instruction {
	if slot.Type() != TypePtr {
		panic(fmt.Sprintf("BUG: StackLoad from %s", slot.Type()))
	}
	i.opcode = OpcodeStackLoad
	i.v = slot
	i.typ = typ
	return i
}

// AsStackStore initializes this instruction as a write of v to a stack slot.
func (i *Instruction) AsStackStore(v, slot Value) *Instruction {
	if slot.Type() != TypePtr {
		panic(fmt.Sprintf("BUG: StackStore to %s", slot.Type()))
	}
	i.opcode = OpcodeStackStore
	i.v, i.v2 = v, slot
	return i
}

// AsLoad initializes this instruction as a load of typ from ptr.
func (i *Instruction) AsLoad(ptr Value, typ Type, access MemoryAccess) *Instruction {
	if ptr.Type() != TypePtr {
		panic(fmt.Sprintf("BUG: Load from %s", ptr.Type()))
	}
	if access.Size == 0 || access.Size > typ.Size() {
		panic(fmt.Sprintf("BUG: Load of %d bytes into %s", access.Size, typ))
	}
	i.opcode = OpcodeLoad
	i.v = ptr
	i.typ = typ
	i.u1 = access.encode()
	return i
}

// LoadData returns the operands of a Load.
func (i *Instruction) LoadData() (ptr Value, typ Type, access MemoryAccess) {
	return i.v, i.typ, decodeMemoryAccess(i.u1)
}

// AsStore initializes this instruction as a store of v to ptr.
func (i *Instruction) AsStore(v, ptr Value, access MemoryAccess) *Instruction {
	if ptr.Type() != TypePtr {
		panic(fmt.Sprintf("BUG: Store to %s", ptr.Type()))
	}
	if access.Size == 0 || access.Size > v.Type().Size() {
		panic(fmt.Sprintf("BUG: Store of %d bytes from %s", access.Size, v.Type()))
	}
	i.opcode = OpcodeStore
	i.v, i.v2 = v, ptr
	i.u1 = access.encode()
	return i
}

// StoreData returns the operands of a Store.
func (i *Instruction) StoreData() (v, ptr Value, access MemoryAccess) {
	return i.v, i.v2, decodeMemoryAccess(i.u1)
}

// AsCall initializes this instruction as a call to the declared function ref with the signature sig.
func (i *Instruction) AsCall(ref FuncRef, sig *Signature, args []Value) *Instruction {
	if len(args) != len(sig.Params) {
		panic(fmt.Sprintf("BUG: call to %s with %d arguments for %s", ref, len(args), sig))
	}
	for idx, a := range args {
		if a.Type() != sig.Params[idx] {
			panic(fmt.Sprintf("BUG: call to %s: argument %d has type %s for %s", ref, idx, a.Type(), sig))
		}
	}
	i.opcode = OpcodeCall
	i.u1 = uint64(ref)
	i.u2 = uint64(sig.ID)
	i.vs = args
	i.typ = sig.Result()
	return i
}

// CallData returns the call data for this instruction necessary for backends.
func (i *Instruction) CallData() (ref FuncRef, sigID SignatureID, args []Value) {
	return FuncRef(i.u1), SignatureID(i.u2), i.vs
}

// AsJump initializes this instruction as a jump instruction with OpcodeJump.
func (i *Instruction) AsJump(target BasicBlock) *Instruction {
	i.opcode = OpcodeJump
	i.blks = []*basicBlock{target.(*basicBlock)}
	return i
}

// JumpTarget returns the target of a Jump.
func (i *Instruction) JumpTarget() BasicBlock {
	return i.blks[0]
}

// AsBrif initializes this instruction as a conditional branch.
func (i *Instruction) AsBrif(c Value, then, els BasicBlock) *Instruction {
	if c.Type() != TypeI1 {
		panic(fmt.Sprintf("BUG: Brif on %s", c.Type()))
	}
	i.opcode = OpcodeBrif
	i.v = c
	i.blks = []*basicBlock{then.(*basicBlock), els.(*basicBlock)}
	return i
}

// BrifData returns the condition and both targets of a Brif.
func (i *Instruction) BrifData() (c Value, then, els BasicBlock) {
	return i.v, i.blks[0], i.blks[1]
}

// AsSwitch initializes this instruction as a multi-way branch on an i32 or i64 selector.
func (i *Instruction) AsSwitch(selector Value, defaultTarget BasicBlock, targets []BasicBlock) *Instruction {
	if t := selector.Type(); t != TypeI32 && t != TypeI64 {
		panic(fmt.Sprintf("BUG: Switch on %s", t))
	}
	i.opcode = OpcodeSwitch
	i.v = selector
	i.blks = make([]*basicBlock, 0, len(targets)+1)
	i.blks = append(i.blks, defaultTarget.(*basicBlock))
	for _, t := range targets {
		i.blks = append(i.blks, t.(*basicBlock))
	}
	return i
}

// SwitchData returns the selector and targets of a Switch.
func (i *Instruction) SwitchData() (selector Value, defaultTarget BasicBlock, targets []BasicBlock) {
	targets = make([]BasicBlock, len(i.blks)-1)
	for idx, t := range i.blks[1:] {
		targets[idx] = t
	}
	return i.v, i.blks[0], targets
}

// AsReturn initializes this instruction as a return instruction. v is ValueInvalid for functions
// without result.
func (i *Instruction) AsReturn(v Value) *Instruction {
	i.opcode = OpcodeReturn
	i.v = v
	return i
}

// ReturnValue returns the value returned by a Return, or ValueInvalid.
func (i *Instruction) ReturnValue() Value {
	return i.v
}

// AsUnreachable initializes this instruction as an Unreachable terminator.
func (i *Instruction) AsUnreachable() *Instruction {
	i.opcode = OpcodeUnreachable
	return i
}

// Successors returns the blocks this terminator may branch to, in operand order.
func (i *Instruction) Successors() []BasicBlock {
	if !i.IsTerminator() {
		return nil
	}
	ret := make([]BasicBlock, len(i.blks))
	for idx, b := range i.blks {
		ret[idx] = b
	}
	return ret
}

// AddIncoming records that control arriving from pred carries v into this Phi.
func (i *Instruction) AddIncoming(v Value, pred BasicBlock) {
	if i.opcode != OpcodePhi {
		panic(fmt.Sprintf("BUG: AddIncoming on %s", i.opcode))
	}
	if v.Type() != i.typ {
		panic(fmt.Sprintf("BUG: incoming %s to Phi of %s", v.Type(), i.typ))
	}
	p := pred.(*basicBlock)
	for idx, b := range i.blks {
		if b == p {
			if i.vs[idx] != v {
				panic(fmt.Sprintf("BUG: %s carries two values into %s", p.Name(), i.rValue))
			}
			return
		}
	}
	i.vs = append(i.vs, v)
	i.blks = append(i.blks, p)
}

// IncomingCount returns the number of incoming edges of a Phi.
func (i *Instruction) IncomingCount() int {
	return len(i.vs)
}

// Incoming returns the idx-th incoming value of a Phi and the block it comes from.
func (i *Instruction) Incoming(idx int) (Value, BasicBlock) {
	return i.vs[idx], i.blks[idx]
}

// IncomingFrom returns the value carried from pred, if any.
func (i *Instruction) IncomingFrom(pred BasicBlock) (Value, bool) {
	for idx, b := range i.blks {
		if BasicBlock(b) == pred {
			return i.vs[idx], true
		}
	}
	return ValueInvalid, false
}

func (i *Instruction) removeIncoming(pred *basicBlock) {
	for idx, b := range i.blks {
		if b == pred {
			i.vs = append(i.vs[:idx], i.vs[idx+1:]...)
			i.blks = append(i.blks[:idx], i.blks[idx+1:]...)
			return
		}
	}
}

// Format returns a string representation of this instruction with the given builder.
// For debugging purposes only.
func (i *Instruction) Format(b Builder) string {
	var instSuffix string
	switch i.opcode {
	case OpcodeIconst:
		instSuffix = fmt.Sprintf("_%d %#x", i.typ.Bits(), i.u1)
	case OpcodeF32const:
		instSuffix = fmt.Sprintf(" %f", math.Float32frombits(uint32(i.u1)))
	case OpcodeF64const:
		instSuffix = fmt.Sprintf(" %f", math.Float64frombits(i.u1))
	case OpcodeVconst:
		instSuffix = fmt.Sprintf(" %#x, %#x", i.u1, i.u2)
	case OpcodeIadd, OpcodeIsub, OpcodeImul, OpcodeBand, OpcodeBor, OpcodeBxor, OpcodeIshl, OpcodeUshr, OpcodeSshr,
		OpcodeFadd, OpcodeFsub, OpcodeFmul, OpcodeFdiv, OpcodeGep:
		instSuffix = fmt.Sprintf(" %s, %s", i.v.Format(b), i.v2.Format(b))
	case OpcodeIcmp:
		instSuffix = fmt.Sprintf(" %s, %s, %s", IntegerCmpCond(i.u1), i.v.Format(b), i.v2.Format(b))
	case OpcodeFcmp:
		instSuffix = fmt.Sprintf(" %s, %s, %s", FloatCmpCond(i.u1), i.v.Format(b), i.v2.Format(b))
	case OpcodeUextend, OpcodeSextend, OpcodeIreduce, OpcodeBitcast, OpcodePtrToInt, OpcodeIntToPtr, OpcodeStackLoad:
		instSuffix = " " + i.v.Format(b)
	case OpcodeSelect:
		instSuffix = fmt.Sprintf(" %s, %s, %s", i.v.Format(b), i.v2.Format(b), i.v3.Format(b))
	case OpcodeSymbol:
		ref := SymbolRef(i.u1)
		instSuffix = fmt.Sprintf(" %s", ref)
		if m := b.(*builder).module; m != nil {
			instSuffix = fmt.Sprintf(" %s(%s)", ref, m.Symbol(ref).Name)
		}
	case OpcodeStackSlot:
		instSuffix = " " + Type(i.u1).String()
	case OpcodeStackStore:
		instSuffix = fmt.Sprintf(" %s, %s", i.v.Format(b), i.v2.Format(b))
	case OpcodeLoad:
		instSuffix = fmt.Sprintf(" %s, %s", i.v.Format(b), decodeMemoryAccess(i.u1))
	case OpcodeStore:
		instSuffix = fmt.Sprintf(" %s, %s, %s", i.v.Format(b), i.v2.Format(b), decodeMemoryAccess(i.u1))
	case OpcodeCall:
		vs := make([]string, len(i.vs)+1)
		vs[0] = fmt.Sprintf(" %s:%s", FuncRef(i.u1), SignatureID(i.u2))
		for idx := range i.vs {
			vs[idx+1] = i.vs[idx].Format(b)
		}
		instSuffix = strings.Join(vs, ", ")
	case OpcodePhi:
		vs := make([]string, len(i.vs))
		for idx := range i.vs {
			vs[idx] = fmt.Sprintf("[%s, %s]", i.vs[idx].Format(b), i.blks[idx].Name())
		}
		instSuffix = " " + strings.Join(vs, ", ")
	case OpcodeJump:
		instSuffix = " " + i.blks[0].Name()
	case OpcodeBrif:
		instSuffix = fmt.Sprintf(" %s, %s, %s", i.v.Format(b), i.blks[0].Name(), i.blks[1].Name())
	case OpcodeSwitch:
		targets := make([]string, len(i.blks)-1)
		for idx, t := range i.blks[1:] {
			targets[idx] = t.Name()
		}
		instSuffix = fmt.Sprintf(" %s, %s, [%s]", i.v.Format(b), i.blks[0].Name(), strings.Join(targets, ", "))
	case OpcodeReturn:
		if i.v.Valid() {
			instSuffix = " " + i.v.Format(b)
		}
	case OpcodeUnreachable:
	default:
		panic(fmt.Sprintf("TODO: format for %s", i.opcode))
	}

	instr := i.opcode.String() + instSuffix
	if rv := i.rValue; rv.Valid() {
		return fmt.Sprintf("%s = %s", rv.formatWithType(b), instr)
	}
	return instr
}
