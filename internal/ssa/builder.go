package ssa

import (
	"fmt"
	"strings"
)

// Builder is used to build the SSA body of one function. Builders of different functions of the same
// Module may be used concurrently once the Module is frozen.
type Builder interface {
	// Init must be called before building a function with the given signature. It creates the entry
	// block, whose parameters are the values of Params, and makes it the current block.
	Init(sig *Signature)

	// Signature returns the Signature of the currently-compiled function.
	Signature() *Signature

	// Module returns the Module this builder declares into.
	Module() *Module

	// Params returns the values of the function parameters.
	Params() []Value

	// EntryBlock returns the entry block of the currently-compiled function.
	EntryBlock() BasicBlock

	// AllocateBasicBlock creates a basic block in SSA function and appends it to the layout.
	AllocateBasicBlock() BasicBlock

	// CurrentBlock returns the currently handled BasicBlock which is set by the latest call to SetCurrentBlock.
	CurrentBlock() BasicBlock

	// SetCurrentBlock sets the instruction insertion target to the BasicBlock `b`.
	SetCurrentBlock(b BasicBlock)

	// MoveBlockAfter moves blk right after `after` in the layout.
	MoveBlockAfter(blk, after BasicBlock)

	// AllocateInstruction returns a new Instruction.
	AllocateInstruction() *Instruction

	// InsertInstruction appends the instruction to the current block and allocates its result Value.
	// Inserting into a terminated block is a bug.
	InsertInstruction(raw *Instruction)

	// AllocatePhi inserts a Phi of typ at the head of blk.
	AllocatePhi(blk BasicBlock, typ Type) *Instruction

	// RemoveInstruction unlinks a non-terminator instruction from its block.
	RemoveInstruction(instr *Instruction)

	// AnnotateValue is for debugging purpose.
	AnnotateValue(value Value, annotation string)

	// RunPasses runs the IR passes on the function.
	RunPasses()

	// Finish runs the passes, verifies the result and returns the function.
	Finish() *Function

	// Format returns the debugging string of the SSA function.
	Format() string
}

// Function is the body of a defined function: its blocks in layout order. The block with the lowest
// ID is the entry.
type Function struct {
	decl   *FunctionDecl
	module *Module
	sig    *Signature

	blocks      pool[basicBlock]
	instrs      pool[Instruction]
	layout      []*basicBlock
	params      []Value
	nextValueID ValueID

	valueAnnotations map[ValueID]string
	donePasses       bool
}

// NewBuilder returns a new Builder declaring into m. m may be nil for standalone functions.
func NewBuilder(m *Module) Builder {
	return &builder{module: m}
}

type builder struct {
	module       *Module
	fn           *Function
	currentBlock *basicBlock
}

// Init implements Builder.Init.
func (b *builder) Init(sig *Signature) {
	b.fn = &Function{
		module:           b.module,
		sig:              sig,
		blocks:           newPool[basicBlock](),
		instrs:           newPool[Instruction](),
		valueAnnotations: map[ValueID]string{},
	}
	entry := b.allocateBasicBlock()
	b.fn.params = make([]Value, len(sig.Params))
	for i, typ := range sig.Params {
		b.fn.params[i] = b.allocateValue(typ)
	}
	b.currentBlock = entry
}

// Signature implements Builder.Signature.
func (b *builder) Signature() *Signature {
	return b.fn.sig
}

// Module implements Builder.Module.
func (b *builder) Module() *Module {
	return b.module
}

// Params implements Builder.Params.
func (b *builder) Params() []Value {
	return b.fn.params
}

// EntryBlock implements Builder.EntryBlock.
func (b *builder) EntryBlock() BasicBlock {
	return b.fn.entry()
}

// AllocateBasicBlock implements Builder.AllocateBasicBlock.
func (b *builder) AllocateBasicBlock() BasicBlock {
	return b.allocateBasicBlock()
}

func (b *builder) allocateBasicBlock() *basicBlock {
	id := BasicBlockID(b.fn.blocks.allocated)
	blk := b.fn.blocks.allocate()
	blk.id = id
	b.fn.layout = append(b.fn.layout, blk)
	return blk
}

// CurrentBlock implements Builder.CurrentBlock.
func (b *builder) CurrentBlock() BasicBlock {
	return b.currentBlock
}

// SetCurrentBlock implements Builder.SetCurrentBlock.
func (b *builder) SetCurrentBlock(bb BasicBlock) {
	b.currentBlock = bb.(*basicBlock)
}

// MoveBlockAfter implements Builder.MoveBlockAfter.
func (b *builder) MoveBlockAfter(raw, rawAfter BasicBlock) {
	blk, after := raw.(*basicBlock), rawAfter.(*basicBlock)
	if blk == after {
		return
	}
	layout := b.fn.layout
	for i, l := range layout {
		if l == blk {
			layout = append(layout[:i], layout[i+1:]...)
			break
		}
	}
	for i, l := range layout {
		if l == after {
			layout = append(layout, nil)
			copy(layout[i+2:], layout[i+1:])
			layout[i+1] = blk
			b.fn.layout = layout
			return
		}
	}
	panic(fmt.Sprintf("BUG: %s is not in the layout", after))
}

// AllocateInstruction implements Builder.AllocateInstruction.
func (b *builder) AllocateInstruction() *Instruction {
	instr := b.fn.instrs.allocate()
	instr.reset()
	return instr
}

// Insert inserts the instruction into the current block of b and returns it.
func (i *Instruction) Insert(b Builder) *Instruction {
	b.InsertInstruction(i)
	return i
}

// InsertInstruction implements Builder.InsertInstruction.
func (b *builder) InsertInstruction(instr *Instruction) {
	blk := b.currentBlock
	if blk == nil {
		panic("BUG: no current block")
	}
	if blk.Terminated() {
		panic(fmt.Sprintf("BUG: inserting %s after the terminator of %s", instr.opcode, blk))
	}
	switch instr.opcode {
	case OpcodeInvalid:
		panic("BUG: inserting an uninitialized instruction")
	case OpcodePhi:
		panic("BUG: Phi must be created with AllocatePhi")
	case OpcodeStackSlot:
		if !blk.EntryBlock() {
			panic(fmt.Sprintf("BUG: StackSlot in %s", blk))
		}
	}
	if !instr.typ.invalid() {
		instr.rValue = b.allocateValue(instr.typ)
	}
	blk.insertInstruction(instr)
	if instr.IsTerminator() {
		for _, succ := range instr.blks {
			blk.addSucc(succ)
		}
	}
}

// AllocatePhi implements Builder.AllocatePhi.
func (b *builder) AllocatePhi(raw BasicBlock, typ Type) *Instruction {
	instr := b.AllocateInstruction()
	instr.opcode = OpcodePhi
	instr.typ = typ
	instr.rValue = b.allocateValue(typ)
	raw.(*basicBlock).insertPhi(instr)
	return instr
}

// RemoveInstruction implements Builder.RemoveInstruction.
func (b *builder) RemoveInstruction(instr *Instruction) {
	if instr.IsTerminator() {
		panic(fmt.Sprintf("BUG: removing terminator %s", instr.opcode))
	}
	if instr.blk == nil {
		panic(fmt.Sprintf("BUG: removing %s twice", instr.opcode))
	}
	instr.blk.removeInstruction(instr)
}

func (b *builder) allocateValue(typ Type) (v Value) {
	v = Value(b.fn.nextValueID)
	v = v.setType(typ)
	b.fn.nextValueID++
	return
}

// AnnotateValue implements Builder.AnnotateValue.
func (b *builder) AnnotateValue(value Value, a string) {
	b.fn.valueAnnotations[value.ID()] = a
}

// RunPasses implements Builder.RunPasses.
func (b *builder) RunPasses() {
	passDeadBlockElimination(b.fn)
	b.fn.donePasses = true
}

// Finish implements Builder.Finish.
func (b *builder) Finish() *Function {
	if !b.fn.donePasses {
		b.RunPasses()
	}
	if err := b.fn.Verify(); err != nil {
		panic(fmt.Sprintf("BUG: invalid function: %v\n%s", err, b.fn.Format()))
	}
	fn := b.fn
	b.fn, b.currentBlock = nil, nil
	return fn
}

// Format implements Builder.Format.
func (b *builder) Format() string {
	return b.fn.Format()
}

// Decl returns the declaration this function is the body of, or nil before Module.SetBody.
func (f *Function) Decl() *FunctionDecl {
	return f.decl
}

// Module returns the module the function was built for.
func (f *Function) Module() *Module {
	return f.module
}

// Signature returns the signature of the function.
func (f *Function) Signature() *Signature {
	return f.sig
}

// Params returns the values of the function parameters.
func (f *Function) Params() []Value {
	return f.params
}

// Blocks returns the live blocks in layout order.
func (f *Function) Blocks() []BasicBlock {
	ret := make([]BasicBlock, 0, len(f.layout))
	for _, blk := range f.layout {
		if !blk.invalid {
			ret = append(ret, blk)
		}
	}
	return ret
}

// ValueCount returns an upper bound of the value IDs in the function.
func (f *Function) ValueCount() int {
	return int(f.nextValueID)
}

func (f *Function) entry() *basicBlock {
	return f.blocks.view(0)
}

// Format returns the text form of the function.
func (f *Function) Format() string {
	b := &builder{module: f.module, fn: f}
	var str strings.Builder
	name := "?"
	if f.decl != nil {
		name = f.decl.Name
	}
	fmt.Fprintf(&str, "function %s %s\n", name, f.sig)
	if len(f.params) > 0 {
		params := make([]string, len(f.params))
		for i, p := range f.params {
			params[i] = p.formatWithType(b)
		}
		fmt.Fprintf(&str, "params: %s\n", strings.Join(params, ", "))
	}
	for _, blk := range f.layout {
		if blk.invalid {
			continue
		}
		str.WriteString(blk.formatHeader())
		str.WriteByte('\n')
		for cur := blk.root; cur != nil; cur = cur.next {
			str.WriteByte('\t')
			str.WriteString(cur.Format(b))
			str.WriteByte('\n')
		}
	}
	return str.String()
}
