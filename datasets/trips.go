package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Noofbiz/taxiDest/logging"
)

// Trip is one row of the Porto taxi dataset. Latitude and Longitude hold the
// polyline in travel order.
type Trip struct {
	ID          string
	CallType    string
	OriginCall  int64
	OriginStand int64
	TaxiID      int64
	Timestamp   int64
	DayType     string
	MissingData bool

	Latitude  []float32
	Longitude []float32
}

// Len is the number of GPS points.
func (t *Trip) Len() int { return len(t.Latitude) }

// Destination returns the last GPS point.
func (t *Trip) Destination() ([2]float32, error) {
	if t.Len() == 0 {
		return [2]float32{}, fmt.Errorf("trip %s: %w", t.ID, ErrEmptyTrajectory)
	}
	n := t.Len() - 1
	return [2]float32{t.Latitude[n], t.Longitude[n]}, nil
}

var tripColumns = []string{
	"trip_id", "call_type", "origin_call", "origin_stand", "taxi_id",
	"timestamp", "day_type", "missing_data", "polyline",
}

// TripDataset lazily reads trips from CSV files matching Pattern.
type TripDataset struct {
	// Pattern used to find CSV files (e.g., "assets/train*.csv")
	Pattern string

	csvPaths []string

	// Column indices (discovered from the first file)
	colIndex map[string]int

	rowCounts []int

	// Cumulative counts for fast index mapping
	cumCounts []int

	totalExamples int

	// cache holds every trip once EnableCache has run
	cache []*Trip
}

// NewTripDataset indexes the CSV files matching pattern.
func NewTripDataset(pattern string) (*TripDataset, error) {
	csvPaths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(csvPaths) == 0 {
		return nil, fmt.Errorf("no CSV files found matching pattern: %s", pattern)
	}

	ds := &TripDataset{
		Pattern:  pattern,
		csvPaths: csvPaths,
	}
	if err := ds.initializeColumns(); err != nil {
		return nil, err
	}
	if err := ds.buildIndex(); err != nil {
		return nil, err
	}

	logging.Info().
		Str("pattern", pattern).
		Int("files", len(csvPaths)).
		Int("trips", ds.totalExamples).
		Msg("indexed trip dataset")
	return ds, nil
}

// initializeColumns reads the first CSV to determine column indices
func (d *TripDataset) initializeColumns() error {
	file, err := os.Open(d.csvPaths[0])
	if err != nil {
		return fmt.Errorf("failed to open first CSV %s: %w", d.csvPaths[0], err)
	}
	defer file.Close()

	header, err := csv.NewReader(file).Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	d.colIndex = make(map[string]int)
	for i, col := range header {
		d.colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range tripColumns {
		if _, ok := d.colIndex[col]; !ok {
			return fmt.Errorf("required column %q not found in CSV", col)
		}
	}
	return nil
}

// buildIndex counts rows in all files and builds cumulative counts
func (d *TripDataset) buildIndex() error {
	d.rowCounts = make([]int, len(d.csvPaths))
	d.cumCounts = make([]int, len(d.csvPaths)+1)
	for i, path := range d.csvPaths {
		count, err := countCSVRows(path)
		if err != nil {
			return fmt.Errorf("failed to count rows in %s: %w", path, err)
		}
		d.rowCounts[i] = count
		d.cumCounts[i+1] = d.cumCounts[i] + count
		logging.Debug().Str("file", path).Int("rows", count).Msg("counted trips")
	}
	d.totalExamples = d.cumCounts[len(d.csvPaths)]
	return nil
}

// Len returns the total number of trips across all CSV files.
func (d *TripDataset) Len() int {
	return d.totalExamples
}

// Name returns the name of the dataset
func (d *TripDataset) Name() string {
	return "TripDataset"
}

// Example reads a single trip by global index.
func (d *TripDataset) Example(idx int) (*Trip, error) {
	if idx < 0 || idx >= d.totalExamples {
		return nil, indexError(idx, d.totalExamples)
	}
	if d.cache != nil {
		return d.cache[idx], nil
	}
	trips, err := d.Batch([]int{idx})
	if err != nil {
		return nil, err
	}
	return trips[0], nil
}

// mapGlobalIndex maps a global index to (file index, row index within file)
func (d *TripDataset) mapGlobalIndex(globalIdx int) (fileIdx, localIdx int) {
	lo, hi := 0, len(d.csvPaths)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if globalIdx < d.cumCounts[mid+1] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, globalIdx - d.cumCounts[lo]
}

type batchSlot struct{ localIdx, batchPos int }

// Batch reads multiple trips by their indices. Indices are grouped by file so
// every file is scanned at most once.
func (d *TripDataset) Batch(indices []int) ([]*Trip, error) {
	out := make([]*Trip, len(indices))
	fileGroups := make(map[int][]batchSlot)
	for batchPos, idx := range indices {
		if idx < 0 || idx >= d.totalExamples {
			return nil, indexError(idx, d.totalExamples)
		}
		if d.cache != nil {
			out[batchPos] = d.cache[idx]
			continue
		}
		fileIdx, localIdx := d.mapGlobalIndex(idx)
		fileGroups[fileIdx] = append(fileGroups[fileIdx], batchSlot{localIdx, batchPos})
	}

	for fileIdx, group := range fileGroups {
		want := make(map[int][]int, len(group))
		for _, s := range group {
			want[s.localIdx] = append(want[s.localIdx], s.batchPos)
		}
		err := d.scanFile(fileIdx, func(row int, t *Trip) bool {
			for _, pos := range want[row] {
				out[pos] = t
			}
			delete(want, row)
			return len(want) > 0
		}, func(row int) bool { _, ok := want[row]; return ok })
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanFile walks fileIdx row by row. Rows for which keep returns true are
// parsed and handed to visit; the scan stops when visit returns false.
func (d *TripDataset) scanFile(fileIdx int, visit func(row int, t *Trip) bool, keep func(row int) bool) error {
	path := d.csvPaths[fileIdx]
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	for row := 0; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: failed to read row %d: %w", path, row, err)
		}
		if keep != nil && !keep(row) {
			continue
		}
		t, err := d.parseTrip(record)
		if err != nil {
			return fmt.Errorf("%s: row %d: %w", path, row, err)
		}
		if !visit(row, t) {
			return nil
		}
	}
}

func (d *TripDataset) parseTrip(record []string) (*Trip, error) {
	col := func(name string) string { return record[d.colIndex[name]] }

	t := &Trip{
		ID:          strings.TrimSpace(col("trip_id")),
		CallType:    strings.TrimSpace(col("call_type")),
		DayType:     strings.TrimSpace(col("day_type")),
		MissingData: parseBool(col("missing_data")),
	}
	var err error
	if t.OriginCall, err = parseInt(col("origin_call")); err != nil {
		return nil, fmt.Errorf("failed to parse ORIGIN_CALL: %w", err)
	}
	if t.OriginStand, err = parseInt(col("origin_stand")); err != nil {
		return nil, fmt.Errorf("failed to parse ORIGIN_STAND: %w", err)
	}
	if t.TaxiID, err = parseInt(col("taxi_id")); err != nil {
		return nil, fmt.Errorf("failed to parse TAXI_ID: %w", err)
	}
	if t.Timestamp, err = parseInt(col("timestamp")); err != nil {
		return nil, fmt.Errorf("failed to parse TIMESTAMP: %w", err)
	}
	if t.Latitude, t.Longitude, err = ParsePolyline(col("polyline")); err != nil {
		return nil, err
	}
	return t, nil
}

// ParsePolyline decodes a POLYLINE field, a JSON list of [longitude,
// latitude] pairs, into latitude and longitude slices.
func ParsePolyline(s string) (lat, lon []float32, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, nil
	}
	var points [][2]float32
	if err := json.Unmarshal([]byte(s), &points); err != nil {
		return nil, nil, fmt.Errorf("failed to parse POLYLINE: %w", err)
	}
	lat = make([]float32, len(points))
	lon = make([]float32, len(points))
	for i, p := range points {
		lon[i], lat[i] = p[0], p[1]
	}
	return lat, lon, nil
}

// EnableCache reads every trip into memory. Subsequent Example and Batch
// calls never touch the files.
func (d *TripDataset) EnableCache() error {
	if d.cache != nil {
		return nil
	}
	cache := make([]*Trip, 0, d.totalExamples)
	for fileIdx := range d.csvPaths {
		err := d.scanFile(fileIdx, func(_ int, t *Trip) bool {
			cache = append(cache, t)
			return true
		}, nil)
		if err != nil {
			return err
		}
	}
	if len(cache) != d.totalExamples {
		return fmt.Errorf("cache holds %d trips, index has %d", len(cache), d.totalExamples)
	}
	d.cache = cache
	logging.Info().Int("trips", len(cache)).Msg("cached trip dataset")
	return nil
}

// TripIDs returns every TRIP_ID in index order.
func (d *TripDataset) TripIDs() ([]string, error) {
	ids := make([]string, 0, d.totalExamples)
	if d.cache != nil {
		for _, t := range d.cache {
			ids = append(ids, t.ID)
		}
		return ids, nil
	}
	for fileIdx, path := range d.csvPaths {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open CSV: %w", err)
		}
		reader := csv.NewReader(file)
		reader.ReuseRecord = true
		_, err = reader.Read()
		for err == nil {
			var record []string
			record, err = reader.Read()
			if err == nil {
				ids = append(ids, strings.TrimSpace(record[d.colIndex["trip_id"]]))
			}
		}
		file.Close()
		if err != io.EOF {
			return nil, fmt.Errorf("file %d: failed to read trip ids: %w", fileIdx, err)
		}
	}
	return ids, nil
}
