package ert

import (
	"errors"
	"testing"
)

func TestEncodeABMN_RoundTrip(t *testing.T) {
	const base = 9 // 8 sensors
	for a := 0; a < 8; a++ {
		for b := 0; b < 8; b++ {
			for m := 0; m < 8; m++ {
				for n := 0; n < 8; n++ {
					key, err := EncodeABMN(a, b, m, n, base, false)
					if err != nil {
						t.Fatalf("encode(%d,%d,%d,%d): %v", a, b, m, n, err)
					}
					ga, gb, gm, gn := DecodeABMN(key, base)
					if ga != min(a, b) || gb != max(a, b) || gm != min(m, n) || gn != max(m, n) {
						t.Fatalf("decode(%d) = (%d,%d,%d,%d), want normalized (%d,%d,%d,%d)",
							key, ga, gb, gm, gn, min(a, b), max(a, b), min(m, n), max(m, n))
					}
				}
			}
		}
	}
}

func TestEncodeABMN_ReversedSymmetry(t *testing.T) {
	const base = 9
	for a := 0; a < 8; a++ {
		for b := 0; b < 8; b++ {
			for m := 0; m < 8; m++ {
				for n := 0; n < 8; n++ {
					rev, err := EncodeABMN(a, b, m, n, base, true)
					if err != nil {
						t.Fatal(err)
					}
					swapped, err := EncodeABMN(m, n, a, b, base, false)
					if err != nil {
						t.Fatal(err)
					}
					if rev != swapped {
						t.Fatalf("encode(%d,%d,%d,%d,reversed) = %d, want encode(%d,%d,%d,%d,forward) = %d",
							a, b, m, n, rev, m, n, a, b, swapped)
					}
				}
			}
		}
	}
}

func TestEncodeABMN_ReciprocalPairBase5(t *testing.T) {
	// 4 electrodes, base 5: (0,1,2,3) and its reciprocal (2,3,0,1) must
	// share a key once one side is encoded reversed.
	fwd, err := EncodeABMN(0, 1, 2, 3, 5, false)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := EncodeABMN(2, 3, 0, 1, 5, true)
	if err != nil {
		t.Fatal(err)
	}
	if fwd != rev {
		t.Errorf("forward key %d != reversed reciprocal key %d", fwd, rev)
	}
}

func TestEncodeABMN_PairOrderInsensitive(t *testing.T) {
	const base = 5
	ref, _ := EncodeABMN(0, 1, 2, 3, base, false)
	for _, tc := range [][4]int{{1, 0, 2, 3}, {0, 1, 3, 2}, {1, 0, 3, 2}} {
		key, err := EncodeABMN(tc[0], tc[1], tc[2], tc[3], base, false)
		if err != nil {
			t.Fatal(err)
		}
		if key != ref {
			t.Errorf("encode(%v) = %d, want %d", tc, key, ref)
		}
	}
}

func TestEncodeABMN_OutOfRange(t *testing.T) {
	for _, tc := range [][4]int{{-1, 1, 2, 3}, {0, 4, 2, 3}, {0, 1, 5, 3}, {0, 1, 2, 99}} {
		if _, err := EncodeABMN(tc[0], tc[1], tc[2], tc[3], 5, false); !errors.Is(err, ErrInvalidLayout) {
			t.Errorf("encode(%v) error = %v, want ErrInvalidLayout", tc, err)
		}
	}
}

func TestSchemeFromKeys(t *testing.T) {
	layout := NewLineLayout(4, 1)
	ds := NewDataset(layout)
	for _, r := range [][4]int{{0, 1, 2, 3}, {1, 2, 3, 0}, {0, 2, 1, 3}} {
		if err := ds.Add(Measurement{A: r[0], B: r[1], M: r[2], N: r[3]}); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := UniqueKeys(ds, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	scheme, err := SchemeFromKeys(keys, LayoutFrom(ds), 0)
	if err != nil {
		t.Fatal(err)
	}
	if scheme.Size() != ds.Size() {
		t.Fatalf("scheme size %d, want %d", scheme.Size(), ds.Size())
	}
	back, err := UniqueKeys(scheme, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	for i := range keys {
		if back[i] != keys[i] {
			t.Errorf("row %d: rebuilt key %d, want %d", i, back[i], keys[i])
		}
		if !scheme.Row(i).Valid {
			t.Errorf("row %d: rebuilt scheme row not valid", i)
		}
	}
}

func TestSchemeFromKeys_FromSensorCount(t *testing.T) {
	key, _ := EncodeABMN(0, 1, 2, 3, 5, false)
	scheme, err := SchemeFromKeys([]int64{key}, SensorCountLayout(4), 5)
	if err != nil {
		t.Fatal(err)
	}
	row := scheme.Row(0)
	if row.A != 0 || row.B != 1 || row.M != 2 || row.N != 3 {
		t.Errorf("decoded geometry (%d,%d,%d,%d), want (0,1,2,3)", row.A, row.B, row.M, row.N)
	}
}

func TestLayoutSpec_Empty(t *testing.T) {
	if _, err := SchemeFromKeys(nil, LayoutSpec{}, 5); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("empty layout spec error = %v, want ErrInvalidLayout", err)
	}
}
