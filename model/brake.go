package model

import (
	"sort"
	"sync"
)

// EmergencyBrake is a train's emergency brake line. Several independent
// holders may assert it; the brake stays engaged until every holder has
// released its own hold.
type EmergencyBrake struct {
	mu      sync.Mutex
	holders map[string]struct{}
}

// NewEmergencyBrake returns a released brake line.
func NewEmergencyBrake() *EmergencyBrake {
	return &EmergencyBrake{holders: make(map[string]struct{})}
}

// Engage asserts the brake on behalf of holder. Repeated calls are no-ops.
func (b *EmergencyBrake) Engage(holder string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holders == nil {
		b.holders = make(map[string]struct{})
	}
	b.holders[holder] = struct{}{}
}

// Release drops holder's assertion. Other holders are unaffected.
func (b *EmergencyBrake) Release(holder string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.holders, holder)
}

// Engaged reports whether any holder currently asserts the brake.
func (b *EmergencyBrake) Engaged() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.holders) > 0
}

// Holders lists the current holders in sorted order.
func (b *EmergencyBrake) Holders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.holders))
	for h := range b.holders {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
