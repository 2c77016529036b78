package monte

import (
	"testing"

	"github.com/Noofbiz/taxiDest/datasets"
	"github.com/Noofbiz/taxiDest/geo"
)

// TestIntegrationWithTripDataset loads local Porto CSVs, if any, and checks
// that KNN predictions on held-out prefixes stay within the city. It is
// skipped when no CSVs are found.
func TestIntegrationWithTripDataset(t *testing.T) {
	patterns := []string{
		"../assets/train*.csv",
		"assets/train*.csv",
	}

	var ds *datasets.TripDataset
	var err error
	for _, p := range patterns {
		ds, err = datasets.NewTripDataset(p)
		if err == nil {
			t.Logf("Loaded trip dataset using pattern: %s", p)
			break
		}
	}
	if ds == nil || err != nil {
		t.Skipf("trip CSV files not found in repository assets; skipping integration test: last error: %v", err)
	}
	if ds.Len() < 50 {
		t.Skipf("dataset too small (%d trips)", ds.Len())
	}

	train, valid := datasets.HoldOut(min(ds.Len(), 5000), 0.1, 1)
	trainSrc := datasets.Subset{Src: ds, Indices: train}
	validTrips, err := ds.Batch(valid)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	ids := make([]string, len(validTrips))
	for i, tr := range validTrips {
		ids[i] = tr.ID
	}

	cands, err := NewSampler(trainSrc, ids, 2).Candidates(1000)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	m, err := NewKNN(cands, 8, 3)
	if err != nil {
		t.Fatalf("NewKNN: %v", err)
	}

	checked := 0
	for _, tr := range validTrips {
		if tr.Len() < 2 || checked == 20 {
			continue
		}
		seg, err := datasets.Cut(tr, tr.Len()/2+1)
		if err != nil {
			t.Fatalf("Cut: %v", err)
		}
		p, err := m.Predict(seg)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		d := seg.Destination()
		// Porto trips rarely end more than a few hundred km apart.
		if km := geo.Erdist(float64(p[0]), float64(p[1]), float64(d[0]), float64(d[1])); km > 500 {
			t.Errorf("trip %s: prediction %v is %.1f km from %v", tr.ID, p, km, d)
		}
		checked++
	}
	t.Logf("checked %d validation prefixes", checked)
}
