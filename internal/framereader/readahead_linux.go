//go:build linux

package framereader

import (
	"os"

	"golang.org/x/sys/unix"
)

// hintSequentialReadahead tells the kernel this fd will be read
// sequentially (within each opened frame file), matching the source's
// posix_fadvise(POSIX_FADV_SEQUENTIAL) call in FrameReader's constructor.
func hintSequentialReadahead(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
