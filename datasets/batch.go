package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/taxiDest/model"
)

// TrajectoryBatch holds segments padded to a common length. Padding repeats
// the last valid point and has mask 0.
type TrajectoryBatch struct {
	Latitude  [][]float32
	Longitude [][]float32
	Mask      [][]float32

	// Context maps a feature name to one index per segment.
	Context map[string][]int32

	lengths      []int
	destinations [][2]float32
	tripIDs      []string
}

// NewTrajectoryBatch pads segs to the longest one. Context features are
// computed for every name in vocab.
func NewTrajectoryBatch(segs []Segment, vocab map[string]int) (*TrajectoryBatch, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	maxLen := 0
	for i, s := range segs {
		if s.Trip == nil || s.N < 1 || s.N > s.Trip.Len() {
			return nil, fmt.Errorf("segment %d: %w", i, ErrEmptyTrajectory)
		}
		maxLen = max(maxLen, s.N)
	}

	b := &TrajectoryBatch{
		Latitude:     make([][]float32, len(segs)),
		Longitude:    make([][]float32, len(segs)),
		Mask:         make([][]float32, len(segs)),
		Context:      make(map[string][]int32, len(vocab)),
		lengths:      make([]int, len(segs)),
		destinations: make([][2]float32, len(segs)),
		tripIDs:      make([]string, len(segs)),
	}
	for name := range vocab {
		b.Context[name] = make([]int32, len(segs))
	}

	for i, s := range segs {
		lat, lon := s.Points()
		b.Latitude[i] = make([]float32, maxLen)
		b.Longitude[i] = make([]float32, maxLen)
		b.Mask[i] = make([]float32, maxLen)
		copy(b.Latitude[i], lat)
		copy(b.Longitude[i], lon)
		for t := range s.N {
			b.Mask[i][t] = 1
		}
		last := s.Last()
		for t := s.N; t < maxLen; t++ {
			b.Latitude[i][t], b.Longitude[i][t] = last[0], last[1]
		}

		for name, idx := range ContextFeatures(s.Trip, vocab) {
			b.Context[name][i] = idx
		}
		b.lengths[i] = s.N
		b.destinations[i] = s.Destination()
		b.tripIDs[i] = s.Trip.ID
	}
	return b, nil
}

// Size is the number of segments.
func (b *TrajectoryBatch) Size() int { return len(b.Mask) }

// MaxLength is the padded time dimension.
func (b *TrajectoryBatch) MaxLength() int { return len(b.Mask[0]) }

// TripIDs returns the source trip of every row.
func (b *TrajectoryBatch) TripIDs() []string { return b.tripIDs }

// LastValidIndex returns sum(mask) - 1 for every row.
func (b *TrajectoryBatch) LastValidIndex() []int {
	out := make([]int, b.Size())
	for i, row := range b.Mask {
		var s float32
		for _, m := range row {
			s += m
		}
		out[i] = int(s) - 1
	}
	return out
}

// LastPoints returns the point at LastValidIndex of every row.
func (b *TrajectoryBatch) LastPoints() [][2]float32 {
	out := make([][2]float32, b.Size())
	for i, last := range b.LastValidIndex() {
		out[i] = [2]float32{b.Latitude[i][last], b.Longitude[i][last]}
	}
	return out
}

// Destinations returns the full trips' final points, the ground truth for
// prefixes.
func (b *TrajectoryBatch) Destinations() [][2]float32 { return b.destinations }

// Tensors returns the batch keyed as the model declares its inputs, with
// every name prefixed by prefix ("" for prefixes, model.CandidatePrefix for
// candidates).
func (b *TrajectoryBatch) Tensors(prefix string) map[string]*tensors.Tensor {
	out := map[string]*tensors.Tensor{
		prefix + model.LatitudeKey:  tensors.FromAnyValue(b.Latitude),
		prefix + model.LongitudeKey: tensors.FromAnyValue(b.Longitude),
		prefix + model.MaskKey:      tensors.FromAnyValue(b.Mask),
	}
	for name, idx := range b.Context {
		out[prefix+name] = tensors.FromAnyValue(idx)
	}
	return out
}

// DestinationTensors returns the ground-truth destinations under the cost's
// destination keys.
func (b *TrajectoryBatch) DestinationTensors() map[string]*tensors.Tensor {
	lat := make([]float32, b.Size())
	lon := make([]float32, b.Size())
	for i, d := range b.destinations {
		lat[i], lon[i] = d[0], d[1]
	}
	return map[string]*tensors.Tensor{
		model.DestinationLatitudeKey:  tensors.FromAnyValue(lat),
		model.DestinationLongitudeKey: tensors.FromAnyValue(lon),
	}
}

// Merge combines tensor maps; later maps win on duplicate names.
func Merge(maps ...map[string]*tensors.Tensor) map[string]*tensors.Tensor {
	out := make(map[string]*tensors.Tensor)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
