//go:build linux || darwin || freebsd || netbsd || openbsd

package source

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// MmapSource maps anonymous private memory for each buffer, keeping the heap outside the
// Go garbage collector's view
type MmapSource struct{}

var _ BufferSource = MmapSource{}

func (MmapSource) Acquire(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Newf("invalid buffer size %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %d bytes", size)
	}
	return data, nil
}

func (MmapSource) Release(buf []byte) error {
	if buf == nil {
		return nil
	}
	return errors.Wrap(unix.Munmap(buf), "munmap")
}
