// Command ertinv cleans multi-dataset ERT-IP surveys and runs the
// two-stage DC→IP inversion. Datasets are plain-text files of a/b/m/n
// electrode rows; the built-in forward operator is a coarse layered
// sensitivity model for smoke runs, real FE/FV solvers plug in through
// the inversion.ForwardOperator interface.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/geotomo-data/ertinv/internal/config"
	"github.com/geotomo-data/ertinv/internal/db"
	"github.com/geotomo-data/ertinv/internal/ert"
	"github.com/geotomo-data/ertinv/internal/inversion"
	"github.com/geotomo-data/ertinv/internal/monitoring"
	"github.com/geotomo-data/ertinv/internal/version"
)

var (
	dataFiles  = flag.String("data", "", "Comma-separated survey data files")
	dbPath     = flag.String("db", "", "Sqlite database for canonical schemes (empty disables persistence)")
	migrations = flag.String("migrations", "migrations", "Migrations directory")
	configPath = flag.String("config", "", "Inversion tuning JSON (empty uses defaults)")
	invert     = flag.Bool("invert", false, "Run the DC-IP inversion after merging")
	fd         = flag.Bool("fd", false, "Frequency-domain IP (no-op inversion branch)")
	cells      = flag.Int("cells", 24, "Model cell count for the built-in demo operator")
	surveyName = flag.String("name", "survey", "Survey name used when persisting")
)

func main() {
	flag.Parse()
	log.Printf("ertinv %s (%s)", version.Version, version.GitSHA)
	if *dataFiles == "" {
		log.Fatalf("no data files given, use -data file1,file2")
	}

	tuning := config.EmptyInversionTuning()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadInversionTuning(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	watch := monitoring.NewStopwatch()
	var cleaned []*ert.Dataset
	for _, path := range strings.Split(*dataFiles, ",") {
		ds, err := loadSurveyFile(path)
		if err != nil {
			log.Fatalf("failed to load %s: %v", path, err)
		}
		out, report, err := ert.MatchReciprocals(ds, ert.ReciprocityOptions{
			Merge:  tuning.GetReciprocityMerge(),
			Remove: tuning.GetReciprocityRemove(),
		})
		if err != nil {
			log.Fatalf("reciprocity matching failed for %s: %v", path, err)
		}
		log.Printf("%s: %d rows, %d reciprocal pairs", path, out.Size(), report.Pairs)
		cleaned = append(cleaned, out)
	}

	watch.Start("merge")
	merged, err := ert.MergeDatasets(cleaned, ert.HalfSpaceGeometry{})
	if err != nil {
		log.Fatalf("merge failed: %v", err)
	}
	watch.Stop("merge")
	log.Printf("canonical scheme: %d configurations over %d electrodes",
		merged.Scheme.Size(), merged.Scheme.SensorCount())

	if *dbPath != "" {
		store, err := db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer store.Close()
		if err := store.MigrateUp(*migrations); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		surveyID, err := store.SaveMergeResult(*surveyName, merged)
		if err != nil {
			log.Fatalf("failed to persist survey: %v", err)
		}
		log.Printf("persisted survey %s", surveyID)
	}

	if *invert {
		runInversion(cleaned[0], tuning, watch)
	}
	log.Printf("timings: %s", watch.Summary())
}

func runInversion(data *ert.Dataset, tuning *config.InversionTuning, watch *monitoring.Stopwatch) {
	fop := demoOperator(data, *cells)
	mesh := inversion.NewFixedMesh(*cells)
	mgr := inversion.NewDCIPManager(fop, mesh, inversion.NewSeigelIPFactory(fop), data)

	err := mgr.Invert(inversion.DCIPConfig{
		Lambda:          tuning.GetLambda(),
		ZWeight:         tuning.GetZWeight(),
		IPLambda:        tuning.GetIPLambda(),
		MaxIterations:   tuning.GetMaxIterations(),
		FrequencyDomain: *fd,
		Stopwatch:       watch,
	})
	if err != nil {
		log.Fatalf("inversion failed (state %s): %v", mgr.State(), err)
	}

	logModel("resistivity (ohmm)", mgr.DCModel())
	if ip := mgr.IPModel(); ip != nil {
		logModel("chargeability (V/V)", ip)
	}
}

func logModel(label string, model []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range model {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	log.Printf("%s: %d cells, range [%.3g, %.3g]", label, len(model), lo, hi)
}

// loadSurveyFile reads a plain-text survey: an electrode count, one x z
// position per electrode, a data count, then rows of
// "a b m n r err i u ip" with trailing columns optional. Lines starting
// with # are comments.
func loadSurveyFile(path string) (*ert.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty survey file")
	}

	nSensors, err := strconv.Atoi(strings.Fields(lines[0])[0])
	if err != nil {
		return nil, fmt.Errorf("bad electrode count: %w", err)
	}
	if len(lines) < 1+nSensors+1 {
		return nil, fmt.Errorf("truncated file: %d lines for %d electrodes", len(lines), nSensors)
	}

	positions := make([]ert.Position, nSensors)
	for i := 0; i < nSensors; i++ {
		fields := strings.Fields(lines[1+i])
		if len(fields) < 2 {
			return nil, fmt.Errorf("electrode %d: want x z, got %q", i, lines[1+i])
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("electrode %d: %w", i, err)
		}
		z, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("electrode %d: %w", i, err)
		}
		positions[i] = ert.Position{X: x, Z: z}
	}
	layout, err := ert.NewElectrodeLayout(positions)
	if err != nil {
		return nil, err
	}

	nData, err := strconv.Atoi(strings.Fields(lines[1+nSensors])[0])
	if err != nil {
		return nil, fmt.Errorf("bad data count: %w", err)
	}
	if len(lines) < 2+nSensors+nData {
		return nil, fmt.Errorf("truncated file: %d data rows declared", nData)
	}

	ds := ert.NewDataset(layout)
	for i := 0; i < nData; i++ {
		fields := strings.Fields(lines[2+nSensors+i])
		if len(fields) < 4 {
			return nil, fmt.Errorf("data row %d: want at least a b m n", i)
		}
		var idx [4]int
		for j := 0; j < 4; j++ {
			idx[j], err = strconv.Atoi(fields[j])
			if err != nil {
				return nil, fmt.Errorf("data row %d: %w", i, err)
			}
		}
		m := ert.Measurement{A: idx[0], B: idx[1], M: idx[2], N: idx[3]}
		floats := []*float64{&m.R, &m.Err, &m.I, &m.U, &m.IP}
		for j, dst := range floats {
			if 4+j >= len(fields) {
				break
			}
			v, err := strconv.ParseFloat(fields[4+j], 64)
			if err != nil {
				return nil, fmt.Errorf("data row %d col %d: %w", i, 4+j, err)
			}
			*dst = v
		}
		if err := ds.Add(m); err != nil {
			return nil, fmt.Errorf("data row %d: %w", i, err)
		}
	}
	return ds, nil
}

// demoOperator builds a [data x cells] linear sensitivity matrix from the
// survey geometry: each configuration senses a band of cells around its
// pseudo-depth, Gaussian falloff, rows normalized. Good enough to exercise
// the full workflow without a discretized forward solver.
func demoOperator(data *ert.Dataset, nCells int) *inversion.LinearOperator {
	layout := data.Layout()
	span := layout.Position(layout.SensorCount()-1).X - layout.Position(0).X
	if span <= 0 {
		span = 1
	}

	g := mat.NewDense(data.Size(), nCells, nil)
	for i := 0; i < data.Size(); i++ {
		row := data.Row(i)
		abMid := (layout.Position(row.A).X + layout.Position(row.B).X) / 2
		mnMid := (layout.Position(row.M).X + layout.Position(row.N).X) / 2
		pseudo := math.Abs(abMid-mnMid) / span // normalized pseudo-depth
		sum := 0.0
		for j := 0; j < nCells; j++ {
			depth := (float64(j) + 0.5) / float64(nCells)
			w := math.Exp(-8 * (depth - pseudo) * (depth - pseudo))
			g.Set(i, j, w)
			sum += w
		}
		for j := 0; j < nCells; j++ {
			g.Set(i, j, g.At(i, j)/sum)
		}
	}
	return &inversion.LinearOperator{G: g}
}
