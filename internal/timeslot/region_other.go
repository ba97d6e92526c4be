//go:build !(linux || darwin || freebsd)

package timeslot

import "errors"

var errUnsupported = errors.New("timeslot: shared file slots are not supported on this platform")

// OpenFileWriter is unavailable on this platform; use NewWriter with a
// MemoryRegion instead.
func OpenFileWriter(path, lockPath string) (*Writer, error) { return nil, errUnsupported }

// OpenFileReader is unavailable on this platform.
func OpenFileReader(path, lockPath string) (*Reader, error) { return nil, errUnsupported }
