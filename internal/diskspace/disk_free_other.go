//go:build !linux

package diskspace

import "errors"

// diskFreeBytes is a stub for non-Linux platforms. The production
// deployment runs on Linux, where disk_free_linux.go's real implementation
// applies.
func diskFreeBytes(path string) (int64, error) {
	return 0, errors.New("disk space check not supported on this platform")
}
