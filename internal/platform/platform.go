// Package platform reserves, commits and releases the address space backing linear memories and
// compartment runtime data.
package platform

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"unsafe"
)

// ErrUnsupported is returned on platforms without virtual memory reservation support.
var ErrUnsupported = fmt.Errorf("address space reservation unsupported on GOOS=%s GOARCH=%s", runtime.GOOS, runtime.GOARCH)

var errZeroLength = errors.New("zero length")

// PageSize returns the host page size.
func PageSize() uint64 {
	return uint64(os.Getpagesize())
}

// Reserve reserves size bytes of inaccessible address space. Accessing the region faults until
// Commit is called on a range of it.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html for mmap API and flags.
func Reserve(size uint64) (uintptr, error) {
	if size == 0 {
		return 0, errZeroLength
	}
	return reserve(size)
}

// ReserveAligned is like Reserve, but the returned address is a multiple of alignment, which must
// be a power of two no smaller than the page size.
//
// This over-reserves by alignment bytes and releases the slack before and after the aligned range.
func ReserveAligned(size, alignment uint64) (uintptr, error) {
	if alignment&(alignment-1) != 0 || alignment < PageSize() {
		panic(fmt.Sprintf("BUG: invalid alignment %#x", alignment))
	}
	if size == 0 {
		return 0, errZeroLength
	}
	total := size + alignment
	addr, err := reserve(total)
	if err != nil {
		return 0, err
	}
	aligned := (uint64(addr) + alignment - 1) &^ (alignment - 1)
	head := aligned - uint64(addr)
	if head > 0 {
		if err = release(addr, head); err != nil {
			_ = release(addr, total)
			return 0, err
		}
	}
	if tail := total - head - size; tail > 0 {
		if err = release(uintptr(aligned+size), tail); err != nil {
			_ = release(uintptr(aligned), size+tail)
			return 0, err
		}
	}
	return uintptr(aligned), nil
}

// Commit makes the page-aligned range readable and writable. Newly committed pages read as zero.
func Commit(addr uintptr, size uint64) error {
	if size == 0 {
		return nil
	}
	return commit(addr, size)
}

// Decommit makes the range inaccessible again and returns its pages to the host.
func Decommit(addr uintptr, size uint64) error {
	if size == 0 {
		return nil
	}
	return decommit(addr, size)
}

// Release unmaps the range.
func Release(addr uintptr, size uint64) error {
	if size == 0 {
		return errZeroLength
	}
	return release(addr, size)
}

// Bytes returns a view of size bytes at addr. The range must be committed before it is read or written.
func Bytes(addr uintptr, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
