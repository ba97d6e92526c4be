// core/layout_loader_test.go
package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/rail-control-simulator/beacon"
	"github.com/signalsfoundry/rail-control-simulator/kb"
)

const greenLayout = `
name: green-line-west
line: GREEN
blocks:
  - id: G1
    section: A
    grade: 0.5
    elevation: 1.2
    length: 100
    speed_limit: 45
  - id: G2
    section: A
    grade: -1.0
    length: 150
    speed_limit: 45
    heater: true
    beacon_bits: [7]
  - id: G3
    line: YARD
    length: 50
    speed_limit: 15
    beacon_width: 128
  - id: G4
    length: 80
    speed_limit: 30
    beacon_hex: "ff000000000000000000000000000000"
`

func TestLoadTrackLayout_PopulatesKB(t *testing.T) {
	store := kb.NewKnowledgeBase()

	layout, err := LoadTrackLayout(store, strings.NewReader(greenLayout))
	if err != nil {
		t.Fatalf("LoadTrackLayout returned error: %v", err)
	}
	if layout.Name != "green-line-west" {
		t.Fatalf("layout name = %q", layout.Name)
	}
	if len(layout.BlockIDs) != 4 {
		t.Fatalf("expected 4 blocks in summary, got %d", len(layout.BlockIDs))
	}
	if layout.Beacons != 2 {
		t.Fatalf("expected 2 active beacons, got %d", layout.Beacons)
	}

	g1 := store.GetBlock("G1")
	if g1 == nil || g1.Line != "GREEN" || g1.Grade != 0.5 || g1.SpeedLimit != 45 {
		t.Fatalf("G1 = %#v", g1)
	}
	if g1.HasActiveBeacon() {
		t.Fatalf("G1 should not carry a beacon")
	}

	g2 := store.GetBlock("G2")
	if !g2.HeaterOn {
		t.Fatalf("G2 heater not loaded")
	}
	if want := "01" + strings.Repeat("00", 31); g2.BeaconHex() != want {
		t.Fatalf("G2 beacon = %q, want %q", g2.BeaconHex(), want)
	}

	g3 := store.GetBlock("G3")
	if g3.Line != "YARD" {
		t.Fatalf("G3 line = %q, want YARD", g3.Line)
	}
	if got := g3.BeaconHex(); len(got) != 32 {
		t.Fatalf("G3 absent beacon should encode as 32 zeros, got %q", got)
	}

	if got := store.GetBlock("G4").BeaconPayload().Width(); got != beacon.Width128 {
		t.Fatalf("G4 beacon width = %d, want 128", got)
	}
}

func TestLoadTrackLayout_Errors(t *testing.T) {
	cases := map[string]string{
		"empty id":       "blocks:\n  - length: 10\n",
		"invalid block":  "blocks:\n  - id: X\n    length: 0\n",
		"bad width":      "blocks:\n  - id: X\n    length: 1\n    beacon_width: 64\n",
		"bit range":      "blocks:\n  - id: X\n    length: 1\n    beacon_width: 128\n    beacon_bits: [128]\n",
		"bad hex":        "blocks:\n  - id: X\n    length: 1\n    beacon_hex: abc\n",
		"hex and bits":   "blocks:\n  - id: X\n    length: 1\n    beacon_hex: \"" + strings.Repeat("0", 32) + "\"\n    beacon_bits: [1]\n",
		"width mismatch": "blocks:\n  - id: X\n    length: 1\n    beacon_width: 256\n    beacon_hex: \"" + strings.Repeat("0", 32) + "\"\n",
		"unknown field":  "blocks:\n  - id: X\n    length: 1\n    colour: red\n",
		"malformed":      "blocks: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadTrackLayout(kb.NewKnowledgeBase(), strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadTrackLayout_Duplicate(t *testing.T) {
	doc := "blocks:\n  - id: X\n    length: 1\n  - id: X\n    length: 2\n"
	_, err := LoadTrackLayout(kb.NewKnowledgeBase(), strings.NewReader(doc))
	if !errors.Is(err, kb.ErrBlockExists) {
		t.Fatalf("err = %v, want ErrBlockExists", err)
	}
}

func TestLoadTrackLayout_NilKB(t *testing.T) {
	if _, err := LoadTrackLayout(nil, strings.NewReader("")); err == nil {
		t.Fatalf("expected error for nil kb")
	}
}

func TestLoadTrackLayout_EmptyDocument(t *testing.T) {
	layout, err := LoadTrackLayout(kb.NewKnowledgeBase(), strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty layout: %v", err)
	}
	if len(layout.BlockIDs) != 0 {
		t.Fatalf("expected no blocks")
	}
}
