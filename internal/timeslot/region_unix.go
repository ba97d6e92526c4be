//go:build linux || darwin || freebsd

package timeslot

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedRegion is a Region backed by a MAP_SHARED mapping of a file, visible
// to every process mapping the same path.
type MappedRegion struct {
	f    *os.File
	data []byte
}

// MapFile maps the slot file at path. A writable mapping creates the file if
// needed and takes an exclusive ownership lock on it; a second writable
// mapping of the same file fails with ErrSlotOwned. Read-only mappings
// require the file to exist with at least SlotSize bytes.
func MapFile(path string, writable bool) (*MappedRegion, error) {
	flag, prot := os.O_RDONLY, unix.PROT_READ
	if writable {
		flag, prot = os.O_RDWR|os.O_CREATE, unix.PROT_READ|unix.PROT_WRITE
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("timeslot: open slot file: %w", err)
	}

	if writable {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, ErrSlotOwned
			}
			return nil, fmt.Errorf("timeslot: ownership lock: %w", err)
		}
		if err := f.Truncate(SlotSize); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("timeslot: size slot file: %w", err)
		}
	} else {
		st, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("timeslot: stat slot file: %w", err)
		}
		if st.Size() < SlotSize {
			_ = f.Close()
			return nil, ErrSlotUninitialized
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, SlotSize, prot, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("timeslot: mmap: %w", err)
	}
	return &MappedRegion{f: f, data: data}, nil
}

func (m *MappedRegion) Bytes() []byte { return m.data }

// Close unmaps the region and releases the file, dropping ownership.
func (m *MappedRegion) Close() error {
	var errs []error
	if m.data != nil {
		errs = append(errs, unix.Munmap(m.data))
		m.data = nil
	}
	if m.f != nil {
		errs = append(errs, m.f.Close())
		m.f = nil
	}
	return errors.Join(errs...)
}

// OpenFileWriter maps the slot at path for writing and guards it with a
// FileGuard on lockPath.
func OpenFileWriter(path, lockPath string) (*Writer, error) {
	region, err := MapFile(path, true)
	if err != nil {
		return nil, err
	}
	guard, err := NewFileGuard(lockPath)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	w, err := NewWriter(region, guard)
	if err != nil {
		_ = guard.Close()
		_ = region.Close()
		return nil, err
	}
	w.closers = append(w.closers, region, guard)
	return w, nil
}

// OpenFileReader maps the slot at path read-only, guarded by lockPath.
func OpenFileReader(path, lockPath string) (*Reader, error) {
	region, err := MapFile(path, false)
	if err != nil {
		return nil, err
	}
	guard, err := NewFileGuard(lockPath)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	r, err := NewReader(region, guard)
	if err != nil {
		_ = guard.Close()
		_ = region.Close()
		return nil, err
	}
	r.closers = append(r.closers, region, guard)
	return r, nil
}
