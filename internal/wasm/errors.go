package wasm

import "errors"

// ErrInvalidModule is wrapped by every error reporting a malformed module-level declaration.
var ErrInvalidModule = errors.New("invalid module")

// Resource errors are returned by memory and compartment management. Callers may retry them.
var (
	// ErrMemoryReserve means the host could not reserve the address space of a memory.
	ErrMemoryReserve = errors.New("memory reservation failed")
	// ErrMemoryCommit means reserved pages could not be made accessible.
	ErrMemoryCommit = errors.New("memory commit failed")
	// ErrMemoryGrow means growth would exceed the maximum page count.
	ErrMemoryGrow = errors.New("memory grow exceeds maximum pages")
	// ErrOutOfBounds means a host-side copy does not fit in the memory.
	ErrOutOfBounds = errors.New("out of bounds")
	// ErrCompartmentFull means no more contexts or memories fit in a compartment.
	ErrCompartmentFull = errors.New("compartment is full")
	// ErrClosed means the resource was already torn down.
	ErrClosed = errors.New("closed")
)

// ErrLink is wrapped by errors returned when imports cannot be resolved.
var ErrLink = errors.New("link failed")

// Errors returned during the execution of compiled functions. They indicate that the instance's
// state is unrecoverable for the current call.
var (
	// ErrRuntimeUnreachable means "unreachable" instruction was executed by the program.
	ErrRuntimeUnreachable = errors.New("unreachable")
	// ErrRuntimeOutOfBoundsMemoryAccess indicates that the program tried to access the
	// region beyond the linear memory.
	ErrRuntimeOutOfBoundsMemoryAccess = errors.New("out of bounds memory access")
	// ErrRuntimeCallStackOverflow indicates that there are too many function calls.
	ErrRuntimeCallStackOverflow = errors.New("callstack overflow")
)
