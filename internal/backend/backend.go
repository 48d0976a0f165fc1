// Package backend defines what a code generator produces from a lowered ssa.Module and how the
// runtime finds the pieces it must supply before the code can run.
package backend

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nianjia-runtime/nrt/internal/ssa"
)

// ErrUnsupported is wrapped by errors of a Compiler that cannot translate some construct.
var ErrUnsupported = errors.New("unsupported by backend")

// Arch names a code generator.
type Arch string

const (
	// ArchPortable executes the SSA directly. It supports every instruction.
	ArchPortable Arch = "portable"
	// ArchAMD64 emits x86-64 machine code for the functions it supports.
	ArchAMD64 Arch = "amd64"
)

// CodeObject is the loadable output of a Compiler.
type CodeObject struct {
	Arch Arch
	// Text is the machine code of every entry, or empty for ArchPortable.
	Text []byte
	// Entries maps the names of defined functions to their offset in Text. Functions missing here
	// are only available through Module.
	Entries map[string]uint64
	// Fallbacks lists the defined functions the Compiler could not translate, sorted.
	Fallbacks []string
	// Imports lists the imported constants and functions that must be resolved before loading, sorted.
	Imports []string
	// Module is the lowered module the object was produced from.
	Module *ssa.Module
}

// Compiler turns a lowered module into a CodeObject.
type Compiler interface {
	Compile(m *ssa.Module) (*CodeObject, error)
}

// ImportsOf returns the sorted names of everything m needs from the runtime: imported constants,
// imported functions and intrinsics.
func ImportsOf(m *ssa.Module) []string {
	var ret []string
	for _, s := range m.Symbols() {
		ret = append(ret, s.Name)
	}
	for _, f := range m.Functions() {
		if f.Linkage != ssa.LinkageDefined {
			ret = append(ret, f.Name)
		}
	}
	sort.Strings(ret)
	return ret
}

// CheckBodies returns an error naming the first defined function of m without a body.
func CheckBodies(m *ssa.Module) error {
	for _, f := range m.Functions() {
		if f.Linkage == ssa.LinkageDefined && f.Body() == nil {
			return fmt.Errorf("function %s has no body", f.Name)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (o *CodeObject) String() string {
	return fmt.Sprintf("%s code object: %d bytes of text, %d entries, %d imports", o.Arch, len(o.Text), len(o.Entries), len(o.Imports))
}
