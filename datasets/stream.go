package datasets

import (
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/taxiDest/model"
)

// MemoryStream yields memory network batches: BatchSize random prefixes of
// Prefixes trips, together with the fixed candidate batch and the prefixes'
// true destinations.
type MemoryStream struct {
	Prefixes   Source
	Candidates *TrajectoryBatch
	Vocab      map[string]int

	// Names orders the yielded inputs, usually Model.Inputs().
	Names []string

	BatchSize int

	// MaxBatches ends the epoch with io.EOF; 0 streams forever.
	MaxBatches int

	rng     *rand.Rand
	order   []int
	pos     int
	yielded int
}

// NewMemoryStream shuffles the prefix source with seed.
func NewMemoryStream(prefixes Source, candidates *TrajectoryBatch, vocab map[string]int, names []string, batchSize int, seed int64) (*MemoryStream, error) {
	if prefixes.Len() == 0 {
		return nil, fmt.Errorf("memory stream: no prefix trips")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("memory stream: batch size must be > 0, got %d", batchSize)
	}
	s := &MemoryStream{
		Prefixes:   prefixes,
		Candidates: candidates,
		Vocab:      vocab,
		Names:      names,
		BatchSize:  batchSize,
		rng:        rand.New(rand.NewSource(seed)),
	}
	s.Shuffle(seed)
	return s, nil
}

// Name returns the name of the dataset
func (s *MemoryStream) Name() string {
	return "MemoryStream"
}

// Shuffle reseeds the stream and permutes the prefix order.
func (s *MemoryStream) Shuffle(seed int64) {
	s.rng.Seed(seed)
	s.order = s.rng.Perm(s.Prefixes.Len())
	s.pos = 0
}

// Reset starts a new epoch.
func (s *MemoryStream) Reset() {
	s.order = s.rng.Perm(s.Prefixes.Len())
	s.pos = 0
	s.yielded = 0
}

// Next returns the next batch as named tensors: prefix inputs, candidate
// inputs and destination keys. Empty trips are skipped.
func (s *MemoryStream) Next() (map[string]*tensors.Tensor, *TrajectoryBatch, error) {
	if s.MaxBatches > 0 && s.yielded >= s.MaxBatches {
		return nil, nil, io.EOF
	}
	segs := make([]Segment, 0, s.BatchSize)
	for scanned := 0; len(segs) < s.BatchSize; scanned++ {
		if scanned >= len(s.order) && len(segs) == 0 {
			return nil, nil, fmt.Errorf("memory stream: %w", ErrEmptyTrajectory)
		}
		if s.pos >= len(s.order) {
			s.order = s.rng.Perm(len(s.order))
			s.pos = 0
		}
		t, err := s.Prefixes.Example(s.order[s.pos])
		s.pos++
		if err != nil {
			return nil, nil, err
		}
		seg, err := RandomCut(s.rng, t)
		if errors.Is(err, ErrEmptyTrajectory) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		segs = append(segs, seg)
	}
	prefix, err := NewTrajectoryBatch(segs, s.Vocab)
	if err != nil {
		return nil, nil, err
	}
	s.yielded++
	return Merge(prefix.Tensors(""), s.Candidates.Tensors(model.CandidatePrefix), prefix.DestinationTensors()), prefix, nil
}

// Yield implements gomlx's train.Dataset: inputs follow Names, labels are the
// destination latitude and longitude.
func (s *MemoryStream) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	named, _, err := s.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = make([]*tensors.Tensor, len(s.Names))
	for i, n := range s.Names {
		t, ok := named[n]
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: %q", model.ErrMissingInput, n)
		}
		inputs[i] = t
	}
	labels = []*tensors.Tensor{named[model.DestinationLatitudeKey], named[model.DestinationLongitudeKey]}
	return s, inputs, labels, nil
}

// HoldOut splits [0, n) into shuffled train and validation indices, with
// fraction of them in validation.
func HoldOut(n int, fraction float64, seed int64) (train, valid []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	nValid := int(float64(n) * fraction)
	return perm[nValid:], perm[:nValid]
}
