//go:build linux

package directio

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	AlignSize = 4096
	BlockSize = 4096
	DirectIO  = true
)

// OpenFile opens name with O_DIRECT so reads and writes bypass the page
// cache. unix.O_DIRECT is used instead of the syscall package constant,
// which is missing on some Linux architectures.
func OpenFile(name string, flag int, perm os.FileMode) (file *os.File, err error) {
	return os.OpenFile(name, flag|unix.O_DIRECT, perm)
}
