package ert

import (
	"fmt"
	"sort"
)

// The configuration codec packs the four electrode roles of a measurement
// into one comparable integer so that configurations can be matched by set
// membership regardless of electrode ordering within a pair. The current
// pair and potential pair are each normalized to (min,max)+1 — the +1
// keeps a legal index 0 from colliding with the zero digit reserved for
// "absent" — and the digits are composed in base sensorCount+1, which
// guarantees no digit can overflow into the next.

// EncodeABMN packs electrode indices (a,b current pair, m,n potential
// pair) into a unique key. base must be sensorCount+1; pass 0 to let
// callers with a dataset use UniqueKeys instead. With reversed set, the
// potential pair leads the digit order, which maps a reciprocal survey
// into the forward key space.
func EncodeABMN(a, b, m, n int, base int64, reversed bool) (int64, error) {
	for _, idx := range []int{a, b, m, n} {
		if idx < 0 || int64(idx) >= base-1 {
			return 0, fmt.Errorf("%w: index %d with base %d", ErrInvalidLayout, idx, base)
		}
	}
	ca, cb := int64(min(a, b)+1), int64(max(a, b)+1)
	pm, pn := int64(min(m, n)+1), int64(max(m, n)+1)

	digits := [4]int64{ca, cb, pm, pn}
	if reversed {
		digits = [4]int64{pm, pn, ca, cb}
	}
	var key int64
	for _, d := range digits {
		key = key*base + d
	}
	return key, nil
}

// DecodeABMN unpacks a forward-orientation key into (a,b,m,n) with a<b and
// m<n, inverting EncodeABMN up to the ordering within each pair.
func DecodeABMN(key, base int64) (a, b, m, n int) {
	var digits [4]int64
	for i := 0; i < 4; i++ {
		digits[i] = key % base // n, m, b, a
		key /= base
	}
	return int(digits[3] - 1), int(digits[2] - 1), int(digits[1] - 1), int(digits[0] - 1)
}

// UniqueKeys computes the key of every measurement in the dataset. base 0
// selects sensorCount+1; callers comparing datasets with different sensor
// counts must pass a common base explicitly.
func UniqueKeys(d *Dataset, base int64, reversed bool) ([]int64, error) {
	if base == 0 {
		base = int64(d.SensorCount()) + 1
	}
	keys := make([]int64, d.Size())
	for i := range keys {
		row := d.Row(i)
		key, err := EncodeABMN(row.A, row.B, row.M, row.N, base, reversed)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		keys[i] = key
	}
	return keys, nil
}

// SchemeFromKeys rebuilds a measurement scheme from unique keys, one valid
// row per key with geometry decoded from the key digits. The layout spec
// is resolved once; base 0 selects the resolved layout's sensorCount+1.
func SchemeFromKeys(keys []int64, src LayoutSpec, base int64) (*Dataset, error) {
	layout, err := src.resolve()
	if err != nil {
		return nil, err
	}
	if base == 0 {
		base = int64(layout.SensorCount()) + 1
	}
	scheme := NewDataset(layout)
	for i, key := range keys {
		a, b, m, n := DecodeABMN(key, base)
		if err := scheme.Add(Measurement{A: a, B: b, M: m, N: n}); err != nil {
			return nil, fmt.Errorf("key %d (%d): %w", i, key, err)
		}
	}
	return scheme, nil
}

// sortedUnique returns the ascending deduplicated union of key slices.
func sortedUnique(keySets ...[]int64) []int64 {
	var all []int64
	for _, ks := range keySets {
		all = append(all, ks...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	out := all[:0]
	for i, k := range all {
		if i == 0 || k != all[i-1] {
			out = append(out, k)
		}
	}
	return out
}

// searchKey returns the position of k in the ascending slice keys, or -1.
func searchKey(keys []int64, k int64) int {
	i := sort.Search(len(keys), func(i int) bool { return keys[i] >= k })
	if i < len(keys) && keys[i] == k {
		return i
	}
	return -1
}
