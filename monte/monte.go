// Package monte holds the nearest-neighbour destination baseline and the
// candidate sampler shared with the memory network.
//
// Neighbours are found by a linear scan over the candidate trips, spread over
// a worker pool. Destinations are predicted by inverse-distance weighting or
// drawn by Monte Carlo simulation over the same weights.
package monte

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/Noofbiz/taxiDest/datasets"
	"github.com/Noofbiz/taxiDest/geo"
	"github.com/Noofbiz/taxiDest/logging"
)

// Sampler draws random full trips to act as memory network candidates or
// KNN references.
type Sampler struct {
	Src datasets.Source

	// Exclude holds trip IDs that must never be drawn, usually the
	// validation trips.
	Exclude map[string]bool

	rng *rand.Rand
}

// NewSampler creates a sampler over src excluding the given trip IDs.
func NewSampler(src datasets.Source, exclude []string, seed int64) *Sampler {
	ex := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		ex[id] = true
	}
	return &Sampler{Src: src, Exclude: ex, rng: rand.New(rand.NewSource(seed))}
}

// Candidates returns up to n distinct random trips, skipping empty and
// excluded ones. It fails only when no trip qualifies.
func (s *Sampler) Candidates(n int) ([]*datasets.Trip, error) {
	if n <= 0 {
		return nil, fmt.Errorf("candidate count must be > 0, got %d", n)
	}
	perm := s.rng.Perm(s.Src.Len())
	out := make([]*datasets.Trip, 0, n)
	for start := 0; start < len(perm) && len(out) < n; start += n {
		end := min(start+n, len(perm))
		trips, err := s.Src.Batch(perm[start:end])
		if err != nil {
			return nil, fmt.Errorf("sample candidates: %w", err)
		}
		for _, t := range trips {
			if t.Len() == 0 || s.Exclude[t.ID] {
				continue
			}
			out = append(out, t)
			if len(out) == n {
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sample candidates: %w", datasets.ErrEmptyTrajectory)
	}
	if len(out) < n {
		logging.Warn().Int("wanted", n).Int("got", len(out)).Msg("fewer candidates than requested")
	}
	return out, nil
}

// Batch samples n candidates and pads them into a batch of whole trips.
func (s *Sampler) Batch(n int, vocab map[string]int) (*datasets.TrajectoryBatch, error) {
	trips, err := s.Candidates(n)
	if err != nil {
		return nil, err
	}
	segs := make([]datasets.Segment, len(trips))
	for i, t := range trips {
		if segs[i], err = datasets.Whole(t); err != nil {
			return nil, err
		}
	}
	return datasets.NewTrajectoryBatch(segs, vocab)
}

// Neighbor is a candidate trip ranked against a prefix.
type Neighbor struct {
	Idx      int
	Trip     *datasets.Trip
	Distance float64
}

// SimulationResult holds the outcome of a single Monte Carlo draw.
type SimulationResult struct {
	Destination [2]float32

	// NeighborIdx is the candidate index that was sampled.
	NeighborIdx int
}

// KNN predicts destinations from the K candidate trips whose beginnings best
// match a prefix.
type KNN struct {
	Candidates []*datasets.Trip
	K          int

	// Workers bounds the scan's worker pool; 0 means runtime.NumCPU().
	Workers int

	rng *rand.Rand
}

// NewKNN creates a KNN over candidates. k must be >= 1.
func NewKNN(candidates []*datasets.Trip, k int, seed int64) (*KNN, error) {
	if len(candidates) == 0 {
		return nil, errors.New("candidate set cannot be empty")
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}
	return &KNN{
		Candidates: candidates,
		K:          k,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

func (m *KNN) workers(n int) int {
	w := m.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	return max(1, min(w, n))
}

// distance compares the prefix's first point with the candidate's first point
// and the prefix's last point with the candidate's point at the same step.
func distance(seg datasets.Segment, c *datasets.Trip) float64 {
	lat, lon := seg.Points()
	j := min(seg.N, c.Len()) - 1
	d := geo.Erdist(float64(lat[0]), float64(lon[0]), float64(c.Latitude[0]), float64(c.Longitude[0]))
	d += geo.Erdist(float64(lat[seg.N-1]), float64(lon[seg.N-1]), float64(c.Latitude[j]), float64(c.Longitude[j]))
	return d
}

// Neighbors returns up to k candidates sorted by increasing distance.
func (m *KNN) Neighbors(prefix datasets.Segment, k int) ([]Neighbor, error) {
	if prefix.Trip == nil || prefix.N < 1 {
		return nil, fmt.Errorf("neighbors: %w", datasets.ErrEmptyTrajectory)
	}
	n := len(m.Candidates)

	jobs := make(chan int, n)
	resultsCh := make(chan Neighbor, n)

	workerCount := m.workers(n)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				c := m.Candidates[i]
				if c.Len() == 0 {
					continue
				}
				resultsCh <- Neighbor{Idx: i, Trip: c, Distance: distance(prefix, c)}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	found := make([]Neighbor, 0, n)
	for nb := range resultsCh {
		found = append(found, nb)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("neighbors: no usable candidates: %w", datasets.ErrEmptyTrajectory)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Distance == found[j].Distance {
			return found[i].Idx < found[j].Idx
		}
		return found[i].Distance < found[j].Distance
	})
	if k > len(found) {
		k = len(found)
	}
	return found[:k], nil
}

const weightEps = 1e-6

func inverseDistanceWeights(neighbors []Neighbor) (weights []float64, total float64) {
	weights = make([]float64, len(neighbors))
	for i, nb := range neighbors {
		weights[i] = 1.0 / (nb.Distance + weightEps)
		total += weights[i]
	}
	return weights, total
}

// Predict returns the inverse-distance weighted mean destination of the K
// nearest candidates.
func (m *KNN) Predict(prefix datasets.Segment) ([2]float32, error) {
	neighbors, err := m.Neighbors(prefix, m.K)
	if err != nil {
		return [2]float32{}, err
	}
	weights, total := inverseDistanceWeights(neighbors)
	var lat, lon float64
	for i, nb := range neighbors {
		d, _ := nb.Trip.Destination()
		lat += weights[i] * float64(d[0])
		lon += weights[i] * float64(d[1])
	}
	return [2]float32{float32(lat / total), float32(lon / total)}, nil
}

// PredictBatch runs Predict for every segment.
func (m *KNN) PredictBatch(segs []datasets.Segment) ([][2]float32, error) {
	out := make([][2]float32, len(segs))
	for i, s := range segs {
		p, err := m.Predict(s)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		out[i] = p
		if (i+1)%100 == 0 {
			logging.Debug().Int("done", i+1).Int("total", len(segs)).Msg("knn predictions")
		}
	}
	return out, nil
}

// Simulate draws numSims destinations from the K nearest candidates, each
// chosen with probability proportional to its inverse distance.
func (m *KNN) Simulate(prefix datasets.Segment, numSims int) ([]SimulationResult, error) {
	if numSims <= 0 {
		return nil, fmt.Errorf("numSims must be > 0")
	}
	neighbors, err := m.Neighbors(prefix, m.K)
	if err != nil {
		return nil, err
	}
	weights, totalWeight := inverseDistanceWeights(neighbors)

	results := make([]SimulationResult, numSims)

	// Precompute independent seeds using the KNN RNG (serial access).
	seeds := make([]int64, numSims)
	for i := range seeds {
		seeds[i] = m.rng.Int63()
	}

	workerCount := m.workers(numSims)
	jobs := make(chan int, numSims)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for sim := range jobs {
				rng := rand.New(rand.NewSource(seeds[sim]))
				target := rng.Float64() * totalWeight
				acc := 0.0
				choice := len(weights) - 1
				for i, w := range weights {
					acc += w
					if target <= acc {
						choice = i
						break
					}
				}
				chosen := neighbors[choice]
				d, _ := chosen.Trip.Destination()
				results[sim] = SimulationResult{Destination: d, NeighborIdx: chosen.Idx}
			}
		}()
	}
	for sim := 0; sim < numSims; sim++ {
		jobs <- sim
	}
	close(jobs)
	wg.Wait()

	return results, nil
}

// MeanDestination averages the simulated destinations.
func MeanDestination(results []SimulationResult) ([2]float32, error) {
	if len(results) == 0 {
		return [2]float32{}, errors.New("no simulation results")
	}
	var lat, lon float64
	for _, r := range results {
		lat += float64(r.Destination[0])
		lon += float64(r.Destination[1])
	}
	n := float64(len(results))
	return [2]float32{float32(lat / n), float32(lon / n)}, nil
}
