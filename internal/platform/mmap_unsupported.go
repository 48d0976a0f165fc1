//go:build !(linux || darwin || freebsd)

package platform

func reserve(uint64) (uintptr, error) {
	return 0, ErrUnsupported
}

func release(uintptr, uint64) error {
	return ErrUnsupported
}

func commit(uintptr, uint64) error {
	return ErrUnsupported
}

func decommit(uintptr, uint64) error {
	return ErrUnsupported
}
