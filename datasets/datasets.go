// Package datasets loads Porto taxi trips from CSV files and turns them into
// the padded, masked trajectory batches the memory network consumes.
//
// TripDataset uses lazy loading: it stores file paths and row offsets and only
// reads trips when they are requested, unless EnableCache is called.
//
// Layout and intended usage:
//
// TripDataset
//   - Stores paths to CSV files matching a pattern
//   - Columns: TRIP_ID, CALL_TYPE, ORIGIN_CALL, ORIGIN_STAND, TAXI_ID,
//     TIMESTAMP, DAY_TYPE, MISSING_DATA, POLYLINE
//   - POLYLINE is a JSON list of [longitude, latitude] pairs
//
// Segment / TrajectoryBatch
//   - A Segment is a prefix of a trip (Cut, RandomCut) or the whole trip
//   - TrajectoryBatch pads segments to the batch's longest one and exposes
//     them as gomlx tensors named after the model's declared inputs
//
// MemoryStream
//   - Pairs random prefix batches with a fixed candidate set and yields them
//     with the gomlx train.Dataset Yield signature
package datasets

// Source is the read side shared by TripDataset and in-memory trip lists.
type Source interface {
	Len() int
	Example(i int) (*Trip, error)
	Batch(indices []int) ([]*Trip, error)
}

// TripSlice is an in-memory Source.
type TripSlice []*Trip

func (s TripSlice) Len() int { return len(s) }

func (s TripSlice) Example(i int) (*Trip, error) {
	if i < 0 || i >= len(s) {
		return nil, indexError(i, len(s))
	}
	return s[i], nil
}

func (s TripSlice) Batch(indices []int) ([]*Trip, error) {
	out := make([]*Trip, len(indices))
	for b, i := range indices {
		t, err := s.Example(i)
		if err != nil {
			return nil, err
		}
		out[b] = t
	}
	return out, nil
}

// Subset exposes the Indices of Src as a Source of its own.
type Subset struct {
	Src     Source
	Indices []int
}

func (s Subset) Len() int { return len(s.Indices) }

func (s Subset) Example(i int) (*Trip, error) {
	if i < 0 || i >= len(s.Indices) {
		return nil, indexError(i, len(s.Indices))
	}
	return s.Src.Example(s.Indices[i])
}

func (s Subset) Batch(indices []int) ([]*Trip, error) {
	mapped := make([]int, len(indices))
	for b, i := range indices {
		if i < 0 || i >= len(s.Indices) {
			return nil, indexError(i, len(s.Indices))
		}
		mapped[b] = s.Indices[i]
	}
	return s.Src.Batch(mapped)
}
