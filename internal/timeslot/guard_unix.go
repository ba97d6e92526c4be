//go:build linux || darwin || freebsd

package timeslot

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FileGuard is a cross-process Guard built on an advisory flock(2) over a
// lock file. flock does not exclude goroutines sharing one descriptor, so an
// in-process mutex is held alongside it.
type FileGuard struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileGuard opens (creating if needed) the lock file at path.
func NewFileGuard(path string) (*FileGuard, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("timeslot: open lock file: %w", err)
	}
	return &FileGuard{f: f}, nil
}

// Lock acquires the guard, blocking while another holder has it.
func (g *FileGuard) Lock() error {
	g.mu.Lock()
	if g.f == nil {
		g.mu.Unlock()
		return ErrGuardClosed
	}
	if err := flock(g.f, unix.LOCK_EX); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("timeslot: flock: %w", err)
	}
	return nil
}

// Unlock releases the guard.
func (g *FileGuard) Unlock() error {
	defer g.mu.Unlock()
	if g.f == nil {
		return ErrGuardClosed
	}
	return flock(g.f, unix.LOCK_UN)
}

// Close releases the lock file. Later Lock calls fail with ErrGuardClosed.
func (g *FileGuard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.f == nil {
		return nil
	}
	err := g.f.Close()
	g.f = nil
	return err
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}
