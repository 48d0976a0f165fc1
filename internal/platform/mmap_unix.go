//go:build linux || darwin || freebsd

package platform

import (
	"golang.org/x/sys/unix"
)

func reserve(size uint64) (uintptr, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	flags := unix.MAP_ANON | unix.MAP_PRIVATE | reserveFlags
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, uintptr(size), unix.PROT_NONE, uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return addr, nil
}

func release(addr uintptr, size uint64) error {
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(size), 0); errno != 0 {
		return errno
	}
	return nil
}

func commit(addr uintptr, size uint64) error {
	return unix.Mprotect(Bytes(addr, size), unix.PROT_READ|unix.PROT_WRITE)
}

func decommit(addr uintptr, size uint64) error {
	b := Bytes(addr, size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}
