package amd64

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// assembler wraps a golang-asm builder with label bookkeeping. A label is resolved to the next
// instruction added after it is placed, so branches can target code that is not emitted yet.
type assembler struct {
	b *goasm.Builder
	// setBranchTargetOnNext holds branches whose destination is the next instruction added.
	setBranchTargetOnNext []*obj.Prog
	// onNext is called with the next instruction added, then cleared.
	onNext []func(p *obj.Prog)
}

func newAssembler() (*assembler, error) {
	b, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	return &assembler{b: b}, nil
}

func (a *assembler) add(p *obj.Prog) *obj.Prog {
	a.b.AddInstruction(p)
	for _, br := range a.setBranchTargetOnNext {
		br.To.SetTarget(p)
	}
	a.setBranchTargetOnNext = a.setBranchTargetOnNext[:0]
	for _, f := range a.onNext {
		f(p)
	}
	a.onNext = a.onNext[:0]
	return p
}

// whenNext registers f to observe the next instruction added.
func (a *assembler) whenNext(f func(p *obj.Prog)) {
	a.onNext = append(a.onNext, f)
}

func (a *assembler) assemble() []byte {
	return a.b.Assemble()
}

func (a *assembler) none(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	return a.add(p)
}

func (a *assembler) regToReg(as obj.As, from, to int16) {
	p := a.b.NewProg()
	p.As = as
	p.From.Type, p.From.Reg = obj.TYPE_REG, from
	p.To.Type, p.To.Reg = obj.TYPE_REG, to
	a.add(p)
}

func (a *assembler) constToReg(as obj.As, c int64, to int16) {
	p := a.b.NewProg()
	p.As = as
	p.From.Type, p.From.Offset = obj.TYPE_CONST, c
	p.To.Type, p.To.Reg = obj.TYPE_REG, to
	a.add(p)
}

func (a *assembler) memToReg(as obj.As, base int16, off int64, to int16) {
	p := a.b.NewProg()
	p.As = as
	p.From.Type, p.From.Reg, p.From.Offset = obj.TYPE_MEM, base, off
	p.To.Type, p.To.Reg = obj.TYPE_REG, to
	a.add(p)
}

func (a *assembler) regToMem(as obj.As, from, base int16, off int64) {
	p := a.b.NewProg()
	p.As = as
	p.From.Type, p.From.Reg = obj.TYPE_REG, from
	p.To.Type, p.To.Reg, p.To.Offset = obj.TYPE_MEM, base, off
	a.add(p)
}

// regToConst is for comparisons, whose operands read left to right in Go assembly.
func (a *assembler) regToConst(as obj.As, from int16, c int64) {
	p := a.b.NewProg()
	p.As = as
	p.From.Type, p.From.Reg = obj.TYPE_REG, from
	p.To.Type, p.To.Offset = obj.TYPE_CONST, c
	a.add(p)
}

func (a *assembler) reg(as obj.As, r int16) {
	p := a.b.NewProg()
	p.As = as
	p.From.Type, p.From.Reg = obj.TYPE_REG, r
	a.add(p)
}

func (a *assembler) toReg(as obj.As, r int16) {
	p := a.b.NewProg()
	p.As = as
	p.To.Type, p.To.Reg = obj.TYPE_REG, r
	a.add(p)
}

// jump emits a branch whose target is set later.
func (a *assembler) jump(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	p.To.Type = obj.TYPE_BRANCH
	return a.add(p)
}

// jumpToNext makes br land on the next instruction added.
func (a *assembler) jumpToNext(br *obj.Prog) {
	a.setBranchTargetOnNext = append(a.setBranchTargetOnNext, br)
}

// Registers used by the generated code. Every value lives in its frame slot between instructions,
// so only scratch registers are needed.
const (
	regAX = x86.REG_AX
	regCX = x86.REG_CX
	regSP = x86.REG_SP
	regBP = x86.REG_BP
)

// paramRegs are the registers of the context pointer and the following integer parameters, in
// System V order.
var paramRegs = [...]int16{x86.REG_DI, x86.REG_SI, x86.REG_DX, x86.REG_CX, x86.REG_R8, x86.REG_R9}
