package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/Noofbiz/taxiDest/datasets"
	"github.com/Noofbiz/taxiDest/geo"
)

// resultRow is one validation prefix with every method's prediction.
type resultRow struct {
	TripID      string
	PrefixLen   int
	TripLen     int
	Last        [2]float32
	Destination [2]float32
	Predictions map[string][2]float32
}

func buildRows(prefixes []datasets.Segment, preds map[string][][2]float32) []resultRow {
	rows := make([]resultRow, len(prefixes))
	for i, p := range prefixes {
		rows[i] = resultRow{
			TripID:      p.Trip.ID,
			PrefixLen:   p.N,
			TripLen:     p.Trip.Len(),
			Last:        p.Last(),
			Destination: p.Destination(),
			Predictions: make(map[string][2]float32, len(methods)),
		}
		for _, m := range methods {
			if ps, ok := preds[m]; ok {
				rows[i].Predictions[m] = ps[i]
			}
		}
	}
	return rows
}

type methodSummary struct {
	Name          string  `json:"name"`
	MeanErdist    float64 `json:"mean_erdist_km"`
	MeanHaversine float64 `json:"mean_haversine_km"`
}

type summary struct {
	Prefixes          int             `json:"prefixes"`
	Candidates        int             `json:"candidates"`
	MemoryNetworkCost float64         `json:"memory_network_cost_km"`
	Methods           []methodSummary `json:"methods"`
	Seconds           float64         `json:"seconds"`
}

func summarize(prefixes []datasets.Segment, preds map[string][][2]float32, candidates int) summary {
	targets := make([][2]float32, len(prefixes))
	for i, p := range prefixes {
		targets[i] = p.Destination()
	}
	s := summary{Prefixes: len(prefixes), Candidates: candidates}
	for _, m := range methods {
		ps, ok := preds[m]
		if !ok {
			continue
		}
		var hav float64
		for i := range ps {
			hav += haversine(ps[i], targets[i])
		}
		s.Methods = append(s.Methods, methodSummary{
			Name:          m,
			MeanErdist:    geo.MeanErdist(ps, targets),
			MeanHaversine: hav / float64(len(ps)),
		})
	}
	return s
}

func (s summary) print(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d prefixes, %d candidates\n", s.Prefixes, s.Candidates); err != nil {
		return err
	}
	for _, m := range s.Methods {
		if _, err := fmt.Fprintf(w, "  %-16s erdist %8.3f km  haversine %8.3f km\n", m.Name, m.MeanErdist, m.MeanHaversine); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// writeResultsCSV writes one line per prefix: the truth, then lat, lon and
// erdist for every method.
func writeResultsCSV(path string, rows []resultRow) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"trip_id", "prefix_len", "trip_len", "dest_lat", "dest_lon"}
	for _, m := range methods {
		header = append(header, m+"_lat", m+"_lon", m+"_error")
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.TripID,
			strconv.Itoa(r.PrefixLen),
			strconv.Itoa(r.TripLen),
			formatFloat(float64(r.Destination[0])),
			formatFloat(float64(r.Destination[1])),
		}
		for _, m := range methods {
			p, ok := r.Predictions[m]
			if !ok {
				rec = append(rec, "", "", "")
				continue
			}
			rec = append(rec, formatFloat(float64(p[0])), formatFloat(float64(p[1])), formatFloat(erdist(p, r.Destination)))
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeSummary(path string, s summary) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
