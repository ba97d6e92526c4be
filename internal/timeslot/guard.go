package timeslot

import (
	"errors"
	"sync"
)

// ErrGuardClosed is returned by guards used after Close.
var ErrGuardClosed = errors.New("timeslot: guard closed")

// Guard is the mutual-exclusion primitive protecting a slot. Lock may block
// briefly while another process holds the guard.
type Guard interface {
	Lock() error
	Unlock() error
}

// LocalGuard is a Guard for writers and readers living in one process.
type LocalGuard struct {
	mu sync.Mutex
}

// NewLocalGuard returns an unlocked in-process guard.
func NewLocalGuard() *LocalGuard { return &LocalGuard{} }

func (g *LocalGuard) Lock() error   { g.mu.Lock(); return nil }
func (g *LocalGuard) Unlock() error { g.mu.Unlock(); return nil }
