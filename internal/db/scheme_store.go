package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/geotomo-data/ertinv/internal/ert"
)

// SchemeKey derives the content key of a canonical scheme: SHA-256 over
// the sensor count and the sorted forward configuration keys. Two schemes
// describing the same configurations over the same number of sensors hash
// identically regardless of row order.
func SchemeKey(scheme *ert.Dataset) (string, error) {
	keys, err := ert.UniqueKeys(scheme, 0, false)
	if err != nil {
		return "", err
	}
	sorted := append([]int64(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(scheme.SensorCount()))
	h.Write(buf[:])
	for _, k := range sorted {
		binary.BigEndian.PutUint64(buf[:], uint64(k))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// SaveScheme stores the scheme under its content key and returns that
// key. Saving a scheme that already exists is a no-op.
func (db *DB) SaveScheme(scheme *ert.Dataset) (string, error) {
	key, err := SchemeKey(scheme)
	if err != nil {
		return "", err
	}

	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM schemes WHERE scheme_key = ?`, key).Scan(&existing); err != nil {
		return "", fmt.Errorf("failed to check scheme existence: %w", err)
	}
	if existing > 0 {
		return key, nil
	}

	if _, err := tx.Exec(
		`INSERT INTO schemes (scheme_key, sensor_count, row_count) VALUES (?, ?, ?)`,
		key, scheme.SensorCount(), scheme.Size(),
	); err != nil {
		return "", fmt.Errorf("failed to insert scheme: %w", err)
	}

	layout := scheme.Layout()
	for i := 0; i < layout.SensorCount(); i++ {
		p := layout.Position(i)
		if _, err := tx.Exec(
			`INSERT INTO scheme_sensors (scheme_key, sensor_idx, x, y, z) VALUES (?, ?, ?, ?, ?)`,
			key, i, p.X, p.Y, p.Z,
		); err != nil {
			return "", fmt.Errorf("failed to insert sensor %d: %w", i, err)
		}
	}

	for i := 0; i < scheme.Size(); i++ {
		row := scheme.Row(i)
		if _, err := tx.Exec(
			`INSERT INTO scheme_rows (scheme_key, row_idx, a, b, m, n, k) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			key, i, row.A, row.B, row.M, row.N, nullIfZero(row.K),
		); err != nil {
			return "", fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return key, nil
}

// LoadScheme reconstructs a scheme dataset from its content key.
func (db *DB) LoadScheme(key string) (*ert.Dataset, error) {
	var sensorCount, rowCount int
	err := db.QueryRow(
		`SELECT sensor_count, row_count FROM schemes WHERE scheme_key = ?`, key,
	).Scan(&sensorCount, &rowCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scheme %s not found", key)
	}
	if err != nil {
		return nil, err
	}

	positions := make([]ert.Position, sensorCount)
	rows, err := db.Query(
		`SELECT sensor_idx, x, y, z FROM scheme_sensors WHERE scheme_key = ? ORDER BY sensor_idx`, key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var idx int
		var x, y, z float64
		if err := rows.Scan(&idx, &x, &y, &z); err != nil {
			return nil, err
		}
		positions[idx] = ert.Position{X: x, Y: y, Z: z}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	layout, err := ert.NewElectrodeLayout(positions)
	if err != nil {
		return nil, err
	}
	scheme := ert.NewDataset(layout)

	dataRows, err := db.Query(
		`SELECT a, b, m, n, k FROM scheme_rows WHERE scheme_key = ? ORDER BY row_idx`, key,
	)
	if err != nil {
		return nil, err
	}
	defer dataRows.Close()
	for dataRows.Next() {
		var a, b, m, n int
		var k sql.NullFloat64
		if err := dataRows.Scan(&a, &b, &m, &n, &k); err != nil {
			return nil, err
		}
		meas := ert.Measurement{A: a, B: b, M: m, N: n}
		if k.Valid {
			meas.K = k.Float64
		}
		if err := scheme.Add(meas); err != nil {
			return nil, err
		}
	}
	return scheme, dataRows.Err()
}

// SaveMergeResult persists a merge outcome: the canonical scheme plus the
// resistance/error matrices under a named survey. It returns the survey id.
func (db *DB) SaveMergeResult(name string, res *ert.MergeResult) (string, error) {
	key, err := db.SaveScheme(res.Scheme)
	if err != nil {
		return "", err
	}

	nRows, nDatasets := res.R.Dims()
	surveyID := uuid.NewString()

	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO surveys (survey_id, name, scheme_key, dataset_count) VALUES (?, ?, ?, ?)`,
		surveyID, name, key, nDatasets,
	); err != nil {
		return "", fmt.Errorf("failed to insert survey: %w", err)
	}

	for i := 0; i < nRows; i++ {
		for j := 0; j < nDatasets; j++ {
			r := res.R.At(i, j)
			e := res.Err.At(i, j)
			if math.IsNaN(r) && math.IsNaN(e) {
				continue // absent in this dataset
			}
			if _, err := tx.Exec(
				`INSERT INTO survey_data (survey_id, row_idx, dataset_idx, r, err) VALUES (?, ?, ?, ?, ?)`,
				surveyID, i, j, nullIfNaN(r), nullIfNaN(e),
			); err != nil {
				return "", fmt.Errorf("failed to insert survey datum (%d,%d): %w", i, j, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return surveyID, nil
}

// LoadMergeResult reconstructs a stored survey: scheme, resistance matrix
// and error matrix, with NaN restored where data was absent.
func (db *DB) LoadMergeResult(surveyID string) (*ert.MergeResult, error) {
	var schemeKey string
	var nDatasets int
	err := db.QueryRow(
		`SELECT scheme_key, dataset_count FROM surveys WHERE survey_id = ?`, surveyID,
	).Scan(&schemeKey, &nDatasets)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("survey %s not found", surveyID)
	}
	if err != nil {
		return nil, err
	}

	scheme, err := db.LoadScheme(schemeKey)
	if err != nil {
		return nil, err
	}
	keys, err := ert.UniqueKeys(scheme, 0, false)
	if err != nil {
		return nil, err
	}

	nRows := scheme.Size()
	r := mat.NewDense(nRows, nDatasets, nil)
	errM := mat.NewDense(nRows, nDatasets, nil)
	for i := 0; i < nRows; i++ {
		for j := 0; j < nDatasets; j++ {
			r.Set(i, j, math.NaN())
			errM.Set(i, j, math.NaN())
		}
	}

	rows, err := db.Query(
		`SELECT row_idx, dataset_idx, r, err FROM survey_data WHERE survey_id = ?`, surveyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var i, j int
		var rv, ev sql.NullFloat64
		if err := rows.Scan(&i, &j, &rv, &ev); err != nil {
			return nil, err
		}
		if rv.Valid {
			r.Set(i, j, rv.Float64)
		}
		if ev.Valid {
			errM.Set(i, j, ev.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	k, _ := scheme.GeometricFactors()
	rhoa := mat.NewDense(nRows, nDatasets, nil)
	for i := 0; i < nRows; i++ {
		for j := 0; j < nDatasets; j++ {
			rhoa.Set(i, j, k[i]*r.At(i, j))
		}
	}

	return &ert.MergeResult{Scheme: scheme, R: r, Rhoa: rhoa, Err: errM, Keys: keys}, nil
}

// nullIfNaN maps NaN through to NULL.
func nullIfNaN(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// nullIfZero maps the zero "unset" geometric factor through to NULL.
func nullIfZero(v float64) interface{} {
	if v == 0 || math.IsNaN(v) {
		return nil
	}
	return v
}
