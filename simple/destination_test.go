package simple

import (
	"errors"
	"math"
	"testing"

	"github.com/Noofbiz/taxiDest/datasets"
	"github.com/Noofbiz/taxiDest/geo"
	"github.com/Noofbiz/taxiDest/model"
)

var testStats = model.GPSStats{LatMean: 41.15, LonMean: -8.61, LatStd: 0.05, LonStd: 0.05}

func tripOf(id string, points ...[2]float32) *datasets.Trip {
	t := &datasets.Trip{ID: id}
	for _, p := range points {
		t.Latitude = append(t.Latitude, p[0])
		t.Longitude = append(t.Longitude, p[1])
	}
	return t
}

func TestFeatures(t *testing.T) {
	trip := tripOf("A", [2]float32{41.15, -8.61}, [2]float32{41.20, -8.56})
	seg, _ := datasets.Whole(trip)

	f := Features(seg, 3, testStats)
	if len(f) != 12 {
		t.Fatalf("expected 12 features, got %d", len(f))
	}
	// First k: points 0, 1, 1 (edge repeated).
	want := []float32{0, 0, 1, 1, 1, 1}
	for i, w := range want {
		if math.Abs(float64(f[i]-w)) > 1e-4 {
			t.Fatalf("leading features = %v, want %v", f[:6], want)
		}
	}
	// Last k: points 0, 0, 1 (edge repeated at the front).
	want = []float32{0, 0, 0, 0, 1, 1}
	for i, w := range want {
		if math.Abs(float64(f[6+i]-w)) > 1e-4 {
			t.Fatalf("trailing features = %v, want %v", f[6:], want)
		}
	}
}

func TestPrefixDataset(t *testing.T) {
	src := datasets.TripSlice{
		tripOf("A", [2]float32{41.15, -8.61}, [2]float32{41.20, -8.56}),
		tripOf("E"),
		tripOf("B", [2]float32{41.10, -8.66}),
	}
	ds, err := NewPrefixDataset(src, 2, testStats, 1)
	if err != nil {
		t.Fatalf("NewPrefixDataset error: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("empty trips should be dropped, got len %d", ds.Len())
	}
	in, lab, err := ds.Batch([]int{0, 1})
	if err != nil {
		t.Fatalf("Batch error: %v", err)
	}
	if len(in[0]) != 8 || len(lab[1]) != 2 {
		t.Fatalf("unexpected dims %d / %d", len(in[0]), len(lab[1]))
	}
	if math.Abs(float64(lab[0][0])-1) > 1e-4 || math.Abs(float64(lab[1][1])+1) > 1e-4 {
		t.Fatalf("labels should be standardized destinations, got %v", lab)
	}
	if _, _, err := ds.Batch([]int{2}); err == nil {
		t.Fatal("expected out of range error")
	}

	if _, err := NewPrefixDataset(datasets.TripSlice{tripOf("E")}, 2, testStats, 1); !errors.Is(err, datasets.ErrEmptyTrajectory) {
		t.Fatalf("expected ErrEmptyTrajectory, got %v", err)
	}
}

func TestDestinationTrainAndPredict(t *testing.T) {
	// Every trip heads north-east by the same offset, so the destination is
	// a simple function of the prefix.
	var src datasets.TripSlice
	for i := range 60 {
		lat := float32(41.10 + 0.002*float64(i))
		lon := float32(-8.66 + 0.001*float64(i%10))
		src = append(src, tripOf("T", [2]float32{lat, lon}, [2]float32{lat + 0.01, lon + 0.01},
			[2]float32{lat + 0.02, lon + 0.02}, [2]float32{lat + 0.05, lon + 0.05}))
	}
	d, err := NewDestination(Config{HiddenSizes: []int{16}, Epochs: 40, BatchSize: 8, LearningRate: 0.01, Seed: 7, ClipNorm: 5}, 2, testStats)
	if err != nil {
		t.Fatalf("NewDestination error: %v", err)
	}

	segs := make([]datasets.Segment, 0, 10)
	for _, tr := range src[:10] {
		s, _ := datasets.Cut(tr, 2)
		segs = append(segs, s)
	}
	meanErr := func() float64 {
		preds, err := d.Predict(segs)
		if err != nil {
			t.Fatalf("Predict error: %v", err)
		}
		var sum float64
		for i, p := range preds {
			dest := segs[i].Destination()
			sum += geo.Erdist(float64(p[0]), float64(p[1]), float64(dest[0]), float64(dest[1]))
		}
		return sum / float64(len(preds))
	}

	before := meanErr()
	history, err := d.Train(src)
	if err != nil {
		t.Fatalf("Train error: %v", err)
	}
	after := meanErr()
	t.Logf("mean error before=%.3fkm after=%.3fkm loss=%v", before, after, history[len(history)-1])
	if !(after < before) {
		t.Fatalf("training should reduce the error: before=%.3f after=%.3f", before, after)
	}

	if _, err := d.Predict([]datasets.Segment{{}}); !errors.Is(err, datasets.ErrEmptyTrajectory) {
		t.Fatalf("expected ErrEmptyTrajectory, got %v", err)
	}
	if _, err := NewDestination(Config{}, 0, testStats); err == nil {
		t.Fatal("expected error for zero points")
	}
}
