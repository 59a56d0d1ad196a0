package db

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotomo-data/ertinv/internal/ert"
	"github.com/geotomo-data/ertinv/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func testDB(t *testing.T) *DB {
	t.Helper()
	store, err := NewDB(filepath.Join(t.TempDir(), "ertinv_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.MigrateUp("../../migrations"))
	return store
}

func testScheme(t *testing.T) *ert.Dataset {
	t.Helper()
	ds := ert.NewDataset(ert.NewLineLayout(8, 2))
	for _, r := range [][4]int{{0, 1, 2, 3}, {1, 2, 3, 4}, {0, 2, 4, 6}} {
		require.NoError(t, ds.Add(ert.Measurement{A: r[0], B: r[1], M: r[2], N: r[3]}))
	}
	k, err := ert.HalfSpaceGeometry{}.GeometricFactors(ds)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeometricFactors(k))
	return ds
}

func TestSchemeKey_ContentAddressed(t *testing.T) {
	a := testScheme(t)
	keyA, err := SchemeKey(a)
	require.NoError(t, err)

	// Same configurations in a different row order hash identically.
	b := ert.NewDataset(ert.NewLineLayout(8, 2))
	for _, r := range [][4]int{{0, 2, 4, 6}, {0, 1, 2, 3}, {1, 2, 3, 4}} {
		require.NoError(t, b.Add(ert.Measurement{A: r[0], B: r[1], M: r[2], N: r[3]}))
	}
	keyB, err := SchemeKey(b)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)

	// A different configuration set hashes differently.
	c := ert.NewDataset(ert.NewLineLayout(8, 2))
	require.NoError(t, c.Add(ert.Measurement{A: 0, B: 1, M: 2, N: 3}))
	keyC, err := SchemeKey(c)
	require.NoError(t, err)
	assert.NotEqual(t, keyA, keyC)
}

func TestSaveScheme_RoundTrip(t *testing.T) {
	store := testDB(t)
	scheme := testScheme(t)

	key, err := store.SaveScheme(scheme)
	require.NoError(t, err)

	// Saving the identical scheme is a no-op returning the same key.
	again, err := store.SaveScheme(scheme)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	loaded, err := store.LoadScheme(key)
	require.NoError(t, err)
	require.Equal(t, scheme.Size(), loaded.Size())
	assert.Equal(t, scheme.SensorCount(), loaded.SensorCount())
	for i := 0; i < scheme.Size(); i++ {
		want, got := scheme.Row(i), loaded.Row(i)
		assert.Equalf(t, want.A, got.A, "row %d A", i)
		assert.Equalf(t, want.B, got.B, "row %d B", i)
		assert.Equalf(t, want.M, got.M, "row %d M", i)
		assert.Equalf(t, want.N, got.N, "row %d N", i)
		assert.InDeltaf(t, want.K, got.K, 1e-12, "row %d K", i)
	}
	// Layout positions survive the round trip.
	assert.Equal(t, scheme.Layout().Position(3), loaded.Layout().Position(3))
}

func TestLoadScheme_NotFound(t *testing.T) {
	store := testDB(t)
	_, err := store.LoadScheme("deadbeef")
	assert.Error(t, err)
}

func TestSaveMergeResult_RoundTrip(t *testing.T) {
	store := testDB(t)

	layout := ert.NewLineLayout(8, 1)
	d1 := ert.NewDataset(layout)
	require.NoError(t, d1.Add(ert.Measurement{A: 0, B: 1, M: 2, N: 3, R: 10, Err: 0.02}))
	require.NoError(t, d1.Add(ert.Measurement{A: 1, B: 2, M: 3, N: 4, R: 11, Err: 0.02}))
	d2 := ert.NewDataset(layout)
	require.NoError(t, d2.Add(ert.Measurement{A: 0, B: 2, M: 4, N: 6, R: 20, Err: 0.03}))

	merged, err := ert.MergeDatasets([]*ert.Dataset{d1, d2}, ert.HalfSpaceGeometry{})
	require.NoError(t, err)

	surveyID, err := store.SaveMergeResult("line-1", merged)
	require.NoError(t, err)

	loaded, err := store.LoadMergeResult(surveyID)
	require.NoError(t, err)

	wantRows, wantCols := merged.R.Dims()
	gotRows, gotCols := loaded.R.Dims()
	require.Equal(t, wantRows, gotRows)
	require.Equal(t, wantCols, gotCols)
	for i := 0; i < wantRows; i++ {
		for j := 0; j < wantCols; j++ {
			want, got := merged.R.At(i, j), loaded.R.At(i, j)
			if math.IsNaN(want) {
				assert.Truef(t, math.IsNaN(got), "R(%d,%d) = %v, want NaN", i, j, got)
			} else {
				assert.InDeltaf(t, want, got, 1e-12, "R(%d,%d)", i, j)
			}
		}
	}
	assert.Equal(t, merged.Keys, loaded.Keys)
}

func TestLoadMergeResult_NotFound(t *testing.T) {
	store := testDB(t)
	_, err := store.LoadMergeResult("no-such-survey")
	assert.Error(t, err)
}

func TestMigrateVersion(t *testing.T) {
	store := testDB(t)
	version, dirty, err := store.MigrateVersion("../../migrations")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}
