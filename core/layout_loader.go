// core/layout_loader.go
package core

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/rail-control-simulator/beacon"
	"github.com/signalsfoundry/rail-control-simulator/kb"
	"github.com/signalsfoundry/rail-control-simulator/model"
)

// TrackLayout is a small summary of what was loaded from a layout file.
type TrackLayout struct {
	Name     string
	BlockIDs []string
	Beacons  int // blocks loaded with an active beacon
}

// internal YAML shapes; unexported so the file format can evolve freely.
type trackLayoutYAML struct {
	Name   string           `yaml:"name"`
	Line   string           `yaml:"line"` // default line for blocks that omit one
	Blocks []trackBlockYAML `yaml:"blocks"`
}

type trackBlockYAML struct {
	ID         string  `yaml:"id"`
	Line       string  `yaml:"line"`
	Section    string  `yaml:"section"`
	Grade      float64 `yaml:"grade"`
	Elevation  float64 `yaml:"elevation"`
	Length     float64 `yaml:"length"`
	SpeedLimit float64 `yaml:"speed_limit"`
	Heater     bool    `yaml:"heater"`

	// Beacon can be given either as its wire form or as a width plus the
	// positions of set bits.
	BeaconHex   string `yaml:"beacon_hex"`
	BeaconWidth int    `yaml:"beacon_width"`
	BeaconBits  []int  `yaml:"beacon_bits"`
}

// LoadTrackLayout reads a YAML layout from r and adds every block to store.
// Loading stops at the first invalid or duplicate block; blocks added before
// the failure stay in the KB.
func LoadTrackLayout(store *kb.KnowledgeBase, r io.Reader) (*TrackLayout, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadTrackLayout: kb is nil")
	}

	var payload trackLayoutYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("LoadTrackLayout: decode failed: %w", err)
	}

	result := &TrackLayout{
		Name:     payload.Name,
		BlockIDs: make([]string, 0, len(payload.Blocks)),
	}

	for i, yb := range payload.Blocks {
		if yb.ID == "" {
			return nil, fmt.Errorf("LoadTrackLayout: block #%d has empty id", i)
		}
		p, err := beaconFromYAML(yb)
		if err != nil {
			return nil, fmt.Errorf("LoadTrackLayout: block %q: %w", yb.ID, err)
		}
		line := yb.Line
		if line == "" {
			line = payload.Line
		}

		b := &model.TrackBlock{
			ID:         yb.ID,
			Line:       line,
			Section:    yb.Section,
			Grade:      yb.Grade,
			Elevation:  yb.Elevation,
			Length:     yb.Length,
			SpeedLimit: yb.SpeedLimit,
			HeaterOn:   yb.Heater,
			Beacon:     p,
		}
		if err := store.AddBlock(b); err != nil {
			return nil, fmt.Errorf("LoadTrackLayout: %w", err)
		}
		result.BlockIDs = append(result.BlockIDs, yb.ID)
		if beacon.IsActive(p) {
			result.Beacons++
		}
	}

	return result, nil
}

func beaconFromYAML(yb trackBlockYAML) (beacon.Payload, error) {
	width := beacon.Width(yb.BeaconWidth)
	if yb.BeaconWidth != 0 && !width.Valid() {
		return nil, fmt.Errorf("beacon_width %d: %w", yb.BeaconWidth, beacon.ErrUnsupportedWidth)
	}

	if yb.BeaconHex != "" {
		if len(yb.BeaconBits) > 0 {
			return nil, fmt.Errorf("beacon_hex and beacon_bits are mutually exclusive")
		}
		v, err := beacon.ParseHex(yb.BeaconHex)
		if err != nil {
			return nil, err
		}
		if width.Valid() && v.Width() != width {
			return nil, fmt.Errorf("beacon_hex encodes %d bits, beacon_width says %d", v.Width(), width)
		}
		return v, nil
	}

	if len(yb.BeaconBits) == 0 {
		return beacon.Absent{Expect: width}, nil
	}
	if !width.Valid() {
		width = beacon.DefaultWidth
	}
	v := beacon.MustNew(width)
	for _, pos := range yb.BeaconBits {
		if !beacon.WriteBit(v, pos, true) {
			return nil, fmt.Errorf("beacon bit %d outside %d-bit payload", pos, width)
		}
	}
	return v, nil
}
