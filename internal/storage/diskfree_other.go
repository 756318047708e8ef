//go:build !linux && !darwin && !freebsd

package storage

import "errors"

var errDiskFreeUnsupported = errors.New("free space report not supported on this platform")

func DiskFree(path string) (uint64, error) {
	return 0, errDiskFreeUnsupported
}
