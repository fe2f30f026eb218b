//go:build !linux

package framereader

import "os"

// hintSequentialReadahead is a no-op off Linux; posix_fadvise has no
// portable equivalent, and the readahead hint is an optimization, not a
// correctness requirement.
func hintSequentialReadahead(f *os.File) {}
