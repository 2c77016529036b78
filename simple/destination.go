package simple

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/Noofbiz/taxiDest/datasets"
	"github.com/Noofbiz/taxiDest/model"
)

// DefaultPoints is the number of leading and trailing prefix points fed to
// the MLP.
const DefaultPoints = 5

// Features standardizes the first k and last k points of seg into a 4k
// vector (lat, lon interleaved). Short prefixes repeat their edge point.
func Features(seg datasets.Segment, k int, stats model.GPSStats) []float32 {
	lat, lon := seg.Points()
	out := make([]float32, 0, 4*k)
	add := func(i int) {
		out = append(out,
			float32((float64(lat[i])-stats.LatMean)/stats.LatStd),
			float32((float64(lon[i])-stats.LonMean)/stats.LonStd))
	}
	n := seg.N
	for i := range k {
		add(min(i, n-1))
	}
	for i := range k {
		add(max(n-k+i, 0))
	}
	return out
}

// PrefixDataset exposes random prefixes of a trip source as MLP examples.
// Every trip is cut once, at construction, so epochs see the same prefixes.
type PrefixDataset struct {
	Src    datasets.Source
	Points int
	Stats  model.GPSStats

	segs []datasets.Segment
}

// NewPrefixDataset reads every trip of src and cuts it at a random length.
// Empty trips are dropped.
func NewPrefixDataset(src datasets.Source, points int, stats model.GPSStats, seed int64) (*PrefixDataset, error) {
	if points <= 0 {
		return nil, fmt.Errorf("points must be > 0, got %d", points)
	}
	idx := make([]int, src.Len())
	for i := range idx {
		idx[i] = i
	}
	trips, err := src.Batch(idx)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	d := &PrefixDataset{Src: src, Points: points, Stats: stats}
	for _, t := range trips {
		seg, err := datasets.RandomCut(rng, t)
		if errors.Is(err, datasets.ErrEmptyTrajectory) {
			continue
		}
		if err != nil {
			return nil, err
		}
		d.segs = append(d.segs, seg)
	}
	if len(d.segs) == 0 {
		return nil, fmt.Errorf("prefix dataset: %w", datasets.ErrEmptyTrajectory)
	}
	return d, nil
}

func (d *PrefixDataset) Len() int { return len(d.segs) }

// Batch returns the features and standardized destinations of the indexed
// prefixes.
func (d *PrefixDataset) Batch(indices []int) ([][]float32, [][]float32, error) {
	inputs := make([][]float32, len(indices))
	labels := make([][]float32, len(indices))
	for b, i := range indices {
		if i < 0 || i >= len(d.segs) {
			return nil, nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.segs))
		}
		s := d.segs[i]
		inputs[b] = Features(s, d.Points, d.Stats)
		dest := s.Destination()
		labels[b] = []float32{
			float32((float64(dest[0]) - d.Stats.LatMean) / d.Stats.LatStd),
			float32((float64(dest[1]) - d.Stats.LonMean) / d.Stats.LonStd),
		}
	}
	return inputs, labels, nil
}

// Destination wraps a Model trained on PrefixDataset and maps its outputs
// back to degrees.
type Destination struct {
	Model  *Model
	Points int
	Stats  model.GPSStats
}

// NewDestination builds an untrained destination MLP over points leading and
// trailing points.
func NewDestination(cfg Config, points int, stats model.GPSStats) (*Destination, error) {
	if points <= 0 {
		return nil, fmt.Errorf("points must be > 0, got %d", points)
	}
	cfg.InputDim = 4 * points
	m, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return &Destination{Model: m, Points: points, Stats: stats}, nil
}

// Train fits the model on random prefixes of src.
func (d *Destination) Train(src datasets.Source) ([]float64, error) {
	ds, err := NewPrefixDataset(src, d.Points, d.Stats, d.Model.Config.Seed)
	if err != nil {
		return nil, err
	}
	return d.Model.TrainWithDataset(ds)
}

// Predict returns one (latitude, longitude) per segment.
func (d *Destination) Predict(segs []datasets.Segment) ([][2]float32, error) {
	inputs := make([][]float32, len(segs))
	for i, s := range segs {
		if s.Trip == nil || s.N < 1 {
			return nil, fmt.Errorf("segment %d: %w", i, datasets.ErrEmptyTrajectory)
		}
		inputs[i] = Features(s, d.Points, d.Stats)
	}
	raw, err := d.Model.PredictBatch(inputs)
	if err != nil {
		return nil, err
	}
	out := make([][2]float32, len(raw))
	for i, r := range raw {
		out[i] = [2]float32{
			float32(float64(r[0])*d.Stats.LatStd + d.Stats.LatMean),
			float32(float64(r[1])*d.Stats.LonStd + d.Stats.LonMean),
		}
	}
	return out, nil
}
