package model

import (
	"errors"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
)

// Input names shared with the dataset stream.
const (
	LatitudeKey             = "latitude"
	LongitudeKey            = "longitude"
	MaskKey                 = "latitude_mask"
	CandidatePrefix         = "candidate_"
	DestinationLatitudeKey  = "destination_latitude"
	DestinationLongitudeKey = "destination_longitude"
)

// ErrMissingInput is returned when a named input required by an operation
// was not supplied.
var ErrMissingInput = errors.New("missing input")

var recurrentInputs = []string{LatitudeKey, LongitudeKey, MaskKey}

// TrajectoryInputs is one batch of padded trajectories as graph nodes.
// Latitude, Longitude and Mask are [batch, time] float32; Context maps each
// embedded feature name to an int32 [batch] index vector.
type TrajectoryInputs struct {
	Latitude  *graph.Node
	Longitude *graph.Node
	Mask      *graph.Node
	Context   map[string]*graph.Node
}

// PredictInputs feeds Model.Predict.
type PredictInputs struct {
	Prefix    TrajectoryInputs
	Candidate TrajectoryInputs
}

// CostInputs feeds Model.Cost. Destinations are [batch] degree vectors.
type CostInputs struct {
	PredictInputs
	DestinationLatitude  *graph.Node
	DestinationLongitude *graph.Node
}

// prefixed returns names with prefix prepended.
func prefixed(prefix string, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	return out
}

// named zips the declared names with the positional graph parameters.
func named(names []string, nodes []*graph.Node) map[string]*graph.Node {
	m := make(map[string]*graph.Node, len(names))
	for i, n := range names {
		m[n] = nodes[i]
	}
	return m
}

// trajectoryFrom picks one encoder's inputs out of a named set. Missing names
// produce nil nodes; callers check presence beforehand with requireAll.
func trajectoryFrom(nodes map[string]*graph.Node, prefix string, contextNames []string) TrajectoryInputs {
	in := TrajectoryInputs{
		Latitude:  nodes[prefix+LatitudeKey],
		Longitude: nodes[prefix+LongitudeKey],
		Mask:      nodes[prefix+MaskKey],
		Context:   make(map[string]*graph.Node, len(contextNames)),
	}
	for _, n := range contextNames {
		in.Context[n] = nodes[prefix+n]
	}
	return in
}

// requireAll reports the first declared name absent from have.
func requireAll[V any](declared []string, have map[string]V) error {
	for _, n := range declared {
		if _, ok := have[n]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingInput, n)
		}
	}
	return nil
}
