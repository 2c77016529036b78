// Package model implements the bidirectional recurrent memory network that
// predicts a taxi trip's destination from a trip prefix.
//
// Prefixes and candidate full trips are embedded by two RecurrentEncoders.
// The softmax over prefix-by-candidate similarity scores weights the
// candidates' destinations into the prediction, and the mean geodesic error
// of that prediction is the training cost.
//
// All operations here build gomlx graphs; nothing is validated at this
// level. Use Predictor to compile and run them against tensors.
package model

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Model owns the prefix and candidate encoders.
type Model struct {
	cfg Config
	ctx *context.Context

	prefixEncoder    *RecurrentEncoder
	candidateEncoder *RecurrentEncoder
}

// New builds both encoders under ctx, scoped "prefix_encoder" and
// "candidate_encoder".
func New(ctx *context.Context, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctx.GetVariableByScopeAndName(context.RootScope, context.RngStateVariableName) == nil {
		ctx.RngStateFromSeed(cfg.Seed)
	}
	prefix, err := NewRecurrentEncoder(ctx.In("prefix_encoder"), cfg.PrefixEncoder,
		cfg.Normalization, cfg.RepresentationSize, cfg.RepresentationActivation)
	if err != nil {
		return nil, fmt.Errorf("prefix encoder: %w", err)
	}
	candidate, err := NewRecurrentEncoder(ctx.In("candidate_encoder"), cfg.CandidateEncoder,
		cfg.Normalization, cfg.RepresentationSize, cfg.RepresentationActivation)
	if err != nil {
		return nil, fmt.Errorf("candidate encoder: %w", err)
	}
	return &Model{
		cfg:              cfg,
		ctx:              ctx,
		prefixEncoder:    prefix,
		candidateEncoder: candidate,
	}, nil
}

// Context returns the context holding the model's variables.
func (m *Model) Context() *context.Context { return m.ctx }

// Config returns the configuration the model was built with.
func (m *Model) Config() Config { return m.cfg }

// PrefixEncoder returns the encoder applied to prefixes.
func (m *Model) PrefixEncoder() *RecurrentEncoder { return m.prefixEncoder }

// CandidateEncoder returns the encoder applied to candidates. With
// ShareEncoders set this is the prefix encoder.
func (m *Model) CandidateEncoder() *RecurrentEncoder {
	if m.cfg.ShareEncoders {
		return m.prefixEncoder
	}
	return m.candidateEncoder
}

// Inputs declares the names Predict consumes: the prefix encoder's inputs
// followed by the candidate encoder's inputs with the candidate_ prefix.
func (m *Model) Inputs() []string {
	return append(m.prefixEncoder.Inputs(), prefixed(CandidatePrefix, m.CandidateEncoder().Inputs())...)
}

// CostInputs declares the names Cost consumes: Inputs plus the two
// ground-truth destination keys.
func (m *Model) CostInputs() []string {
	return append(m.Inputs(), DestinationLatitudeKey, DestinationLongitudeKey)
}

// RepresentPrefix returns the prefix representations [batch, representation].
func (m *Model) RepresentPrefix(in TrajectoryInputs) *graph.Node {
	return m.prefixEncoder.Apply(in)
}

// RepresentCandidates returns the candidate representations, unit-normed
// when NormalizeRepresentation is set.
func (m *Model) RepresentCandidates(in TrajectoryInputs) *graph.Node {
	rep := m.CandidateEncoder().Apply(in)
	if m.cfg.NormalizeRepresentation {
		rep = L2Normalize(rep)
	}
	return rep
}

// Predict returns the [batch_prefix, 2] predicted (latitude, longitude).
func (m *Model) Predict(in PredictInputs) *graph.Node {
	prefix := m.RepresentPrefix(in.Prefix)
	candidate := m.RepresentCandidates(in.Candidate)
	attention := Attention(prefix, candidate)
	return WeightedDestination(attention, CandidateDestinations(in.Candidate))
}

// Cost returns the scalar batch-mean Erdist between Predict and the
// ground-truth destinations.
func (m *Model) Cost(in CostInputs) *graph.Node {
	yHat := m.Predict(in.PredictInputs)
	batch := in.DestinationLatitude.Shape().Dimensions[0]
	y := graph.Concatenate([]*graph.Node{
		graph.Reshape(in.DestinationLatitude, batch, 1),
		graph.Reshape(in.DestinationLongitude, batch, 1),
	}, 1)
	return graph.ReduceAllMean(Erdist(yHat, y))
}

// predictInputsFrom assembles PredictInputs from named nodes.
func (m *Model) predictInputsFrom(nodes map[string]*graph.Node) PredictInputs {
	return PredictInputs{
		Prefix:    trajectoryFrom(nodes, "", m.prefixEncoder.ContextInputs()),
		Candidate: trajectoryFrom(nodes, CandidatePrefix, m.CandidateEncoder().ContextInputs()),
	}
}

// costInputsFrom assembles CostInputs from named nodes.
func (m *Model) costInputsFrom(nodes map[string]*graph.Node) CostInputs {
	return CostInputs{
		PredictInputs:        m.predictInputsFrom(nodes),
		DestinationLatitude:  nodes[DestinationLatitudeKey],
		DestinationLongitude: nodes[DestinationLongitudeKey],
	}
}

// L2Normalize scales every row of a [batch, dim] matrix to unit norm. A zero
// row yields NaNs.
func L2Normalize(x *graph.Node) *graph.Node {
	norm := graph.Sqrt(graph.ReduceAndKeep(graph.Square(x), graph.ReduceSum, 1))
	return graph.Div(x, graph.BroadcastToDims(norm, x.Shape().Dimensions...))
}

// Attention returns the row-softmax of prefix [p, d] times candidate [c, d]
// transposed: a [p, c] distribution over candidates for every prefix.
func Attention(prefix, candidate *graph.Node) *graph.Node {
	return graph.Softmax(graph.Einsum("pd,cd->pc", prefix, candidate), 1)
}

// CandidateDestinations extracts each candidate's last valid (latitude,
// longitude) as a [c, 2] matrix.
func CandidateDestinations(in TrajectoryInputs) *graph.Node {
	batch := in.Latitude.Shape().Dimensions[0]
	return graph.Concatenate([]*graph.Node{
		graph.Reshape(lastValidValue(in.Latitude, in.Mask), batch, 1),
		graph.Reshape(lastValidValue(in.Longitude, in.Mask), batch, 1),
	}, 1)
}

// WeightedDestination combines candidate destinations [c, 2] under the
// attention [p, c] into [p, 2].
func WeightedDestination(attention, destinations *graph.Node) *graph.Node {
	return graph.Einsum("pc,ck->pk", attention, destinations)
}
