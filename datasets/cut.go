package datasets

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrEmptyTrajectory is returned for trips without GPS points.
var ErrEmptyTrajectory = errors.New("empty trajectory")

// Segment is the first N points of a trip. The destination always comes from
// the full trip.
type Segment struct {
	Trip *Trip
	N    int
}

// Cut returns the first n points of t, 1 <= n <= t.Len().
func Cut(t *Trip, n int) (Segment, error) {
	if t.Len() == 0 {
		return Segment{}, fmt.Errorf("trip %s: %w", t.ID, ErrEmptyTrajectory)
	}
	if n < 1 || n > t.Len() {
		return Segment{}, fmt.Errorf("trip %s: cut length %d outside [1, %d]", t.ID, n, t.Len())
	}
	return Segment{Trip: t, N: n}, nil
}

// RandomCut cuts t at a length drawn uniformly from [1, t.Len()].
func RandomCut(rng *rand.Rand, t *Trip) (Segment, error) {
	if t.Len() == 0 {
		return Segment{}, fmt.Errorf("trip %s: %w", t.ID, ErrEmptyTrajectory)
	}
	return Cut(t, 1+rng.Intn(t.Len()))
}

// Whole returns the full trip as a segment.
func Whole(t *Trip) (Segment, error) {
	return Cut(t, t.Len())
}

// Points returns the segment's latitudes and longitudes.
func (s Segment) Points() (lat, lon []float32) {
	return s.Trip.Latitude[:s.N], s.Trip.Longitude[:s.N]
}

// Last returns the last point of the segment.
func (s Segment) Last() [2]float32 {
	return [2]float32{s.Trip.Latitude[s.N-1], s.Trip.Longitude[s.N-1]}
}

// Destination returns the full trip's last point.
func (s Segment) Destination() [2]float32 {
	d, _ := s.Trip.Destination()
	return d
}
