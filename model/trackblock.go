package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/rail-control-simulator/beacon"
)

// ErrInvalidBlock is returned by Validate for blocks with impossible attributes.
var ErrInvalidBlock = errors.New("invalid track block")

// TrackBlock is a segment of track with its physical attributes and the
// beacon payload wayside logic has pushed for it.
type TrackBlock struct {
	ID      string
	Line    string // e.g. "GREEN", "RED"
	Section string

	Grade      float64 // percent, negative when descending
	Elevation  float64 // metres
	Length     float64 // metres, > 0
	SpeedLimit float64 // km/h, >= 0
	HeaterOn   bool

	// Beacon is beacon.Absent{} when no payload is attached. A nil value is
	// treated the same way.
	Beacon beacon.Payload
}

// Validate checks the block invariants.
func (b *TrackBlock) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}
	if b.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidBlock)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"grade", b.Grade},
		{"elevation", b.Elevation},
		{"length", b.Length},
		{"speed limit", b.SpeedLimit},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s of block %q is not finite", ErrInvalidBlock, f.name, b.ID)
		}
	}
	if b.Length <= 0 {
		return fmt.Errorf("%w: length of block %q must be positive, got %g", ErrInvalidBlock, b.ID, b.Length)
	}
	if b.SpeedLimit < 0 {
		return fmt.Errorf("%w: speed limit of block %q must be >= 0, got %g", ErrInvalidBlock, b.ID, b.SpeedLimit)
	}
	return nil
}

// BeaconPayload returns the attached payload, never nil.
func (b *TrackBlock) BeaconPayload() beacon.Payload {
	if b == nil || b.Beacon == nil {
		return beacon.Absent{}
	}
	return b.Beacon
}

// BeaconHex returns the beacon in its hex wire form.
func (b *TrackBlock) BeaconHex() string {
	return beacon.ToHex(b.BeaconPayload())
}

// HasActiveBeacon reports whether the block carries a non-zero beacon.
func (b *TrackBlock) HasActiveBeacon() bool {
	return beacon.IsActive(b.BeaconPayload())
}

// Clone returns a copy whose beacon vector is independent of the original.
func (b *TrackBlock) Clone() *TrackBlock {
	if b == nil {
		return nil
	}
	out := *b
	if v, ok := b.Beacon.(*beacon.Vector); ok && v != nil {
		out.Beacon = v.Clone()
	}
	return &out
}
