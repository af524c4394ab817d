//go:build unix

package comch

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func allocRegion(size int, lock bool) ([]byte, func([]byte) error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("comch: mmap %d bytes: %w", size, err)
	}
	if lock {
		if err := unix.Mlock(mem); err != nil {
			_ = unix.Munmap(mem)
			return nil, nil, fmt.Errorf("comch: mlock %d bytes: %w", size, err)
		}
	}
	release := func(b []byte) error {
		if lock {
			_ = unix.Munlock(b)
		}
		return unix.Munmap(b)
	}
	return mem, release, nil
}
