package beacon

import "testing"

func TestFieldRoundTrip(t *testing.T) {
	v := MustNew(Width128)
	f := Field{Name: "speed_code", Start: 4, Count: 12}
	if !f.WriteUint(v, 0xABC) {
		t.Fatalf("WriteUint = false")
	}
	if got := f.ReadUint(v); got != 0xABC {
		t.Fatalf("ReadUint = %#x, want 0xabc", got)
	}
	// 0000 1010 1011 1100 -> "0abc"
	if got := ToHex(v)[:4]; got != "0abc" {
		t.Fatalf("hex prefix = %q, want 0abc", got)
	}
}

func TestFieldWriteRejects(t *testing.T) {
	v := MustNew(Width128)
	cases := []struct {
		name  string
		field Field
		value uint64
	}{
		{"overflow", Field{Start: 0, Count: 4}, 16},
		{"past end", Field{Start: 120, Count: 16}, 1},
		{"negative start", Field{Start: -1, Count: 4}, 1},
		{"zero count", Field{Start: 0, Count: 0}, 0},
		{"too wide", Field{Start: 0, Count: 65}, 1},
	}
	for _, tc := range cases {
		if tc.field.WriteUint(v, tc.value) {
			t.Fatalf("%s: WriteUint = true, want false", tc.name)
		}
	}
	if IsActive(v) {
		t.Fatalf("rejected writes mutated the vector")
	}
	if (Field{Start: 0, Count: 8}).WriteUint(Absent{}, 1) {
		t.Fatalf("WriteUint on Absent = true")
	}
}

func TestFieldReadAbsentIsZero(t *testing.T) {
	if got := (Field{Start: 0, Count: 16}).ReadUint(Absent{}); got != 0 {
		t.Fatalf("ReadUint(Absent) = %d, want 0", got)
	}
}
