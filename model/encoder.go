package model

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// RecurrentEncoder embeds a padded, masked (latitude, longitude) trajectory
// plus its context features into a fixed-size representation.
//
// The coordinates are standardized, projected to the LSTM gate inputs and
// scanned in both directions. The summary concatenates the backward state at
// the first timestep (which has seen the whole trajectory) with the forward
// state at the last valid timestep, then appends the context embeddings and
// runs a feed-forward net.
type RecurrentEncoder struct {
	cfg       EncoderConfig
	stats     GPSStats
	outputDim int

	embedder *ContextEmbedder
	fork     *linear
	rec      *bidirectional
	toOutput *mlp
}

// NewRecurrentEncoder creates the encoder's parameters under ctx.
func NewRecurrentEncoder(ctx *context.Context, cfg EncoderConfig, stats GPSStats, outputDim int, activation Activation) (*RecurrentEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if outputDim <= 0 {
		return nil, fmt.Errorf("%w: output dim must be > 0, got %d", ErrInvalidConfig, outputDim)
	}
	e := &RecurrentEncoder{
		cfg:       cfg,
		stats:     stats,
		outputDim: outputDim,
	}
	e.embedder = newContextEmbedder(ctx.In("context_embedder"), cfg.Init, cfg.Embeddings)
	e.fork = newLinear(ctx.In("fork"), cfg.Init, 2, numGates*cfg.RecStateDim)
	e.rec = newBidirectional(ctx.In("encoder_recurrent"), cfg.Init, cfg.RecStateDim)

	dims := []int{2*cfg.RecStateDim + e.embedder.OutputDim()}
	dims = append(dims, cfg.DimHidden...)
	dims = append(dims, outputDim)
	e.toOutput = newMLP(ctx.In("encoder_rto"), cfg.Init, dims, activation)
	return e, nil
}

// Inputs declares every name Apply reads: the embedder's features followed
// by latitude, longitude and latitude_mask.
func (e *RecurrentEncoder) Inputs() []string {
	return append(e.embedder.Inputs(), recurrentInputs...)
}

// ContextInputs lists only the embedded feature names.
func (e *RecurrentEncoder) ContextInputs() []string {
	return e.embedder.Inputs()
}

// OutputDim is the representation width.
func (e *RecurrentEncoder) OutputDim() int {
	return e.outputDim
}

// Apply returns the [batch, output_dim] representations.
//
// Every row of in.Mask must hold at least one valid position; an all-padding
// row has last index -1 and selects no forward state.
func (e *RecurrentEncoder) Apply(in TrajectoryInputs) *graph.Node {
	dims := in.Latitude.Shape().Dimensions
	batch, steps, h := dims[0], dims[1], e.cfg.RecStateDim

	lat := graph.Transpose(standardize(in.Latitude, e.stats.LatMean, e.stats.LatStd), 0, 1)
	lon := graph.Transpose(standardize(in.Longitude, e.stats.LonMean, e.stats.LonStd), 0, 1)
	mask := graph.Transpose(in.Mask, 0, 1)

	recIn := graph.Concatenate([]*graph.Node{
		graph.Reshape(lat, steps*batch, 1),
		graph.Reshape(lon, steps*batch, 1),
	}, 1)
	forked := graph.Reshape(e.fork.apply(recIn), steps, batch, numGates*h)
	path := e.rec.apply(forked, mask)

	firstBackward := graph.Reshape(
		graph.Slice(path, graph.AxisElem(0), graph.AxisRange(), graph.AxisRange(h, 2*h)), batch, h)
	forward := graph.Slice(path, graph.AxisRange(), graph.AxisRange(), graph.AxisRange(0, h))
	lastForward := selectLastValid(forward, in.Mask)

	parts := []*graph.Node{firstBackward, lastForward}
	parts = append(parts, e.embedder.Apply(in.Context)...)
	return e.toOutput.apply(graph.Concatenate(parts, 1))
}

func standardize(x *graph.Node, mean, std float64) *graph.Node {
	g := x.Graph()
	return graph.Div(graph.Sub(x, graph.Scalar(g, x.DType(), mean)), graph.Scalar(g, x.DType(), std))
}

// lastValidSelector turns a [batch, time] mask into a one-hot [batch, time]
// selector of each row's last valid index, sum(mask) - 1.
func lastValidSelector(mask *graph.Node) *graph.Node {
	g := mask.Graph()
	dims := mask.Shape().Dimensions
	last := graph.Sub(graph.ReduceSum(mask, 1), graph.Scalar(g, mask.DType(), 1))
	last = graph.BroadcastToDims(graph.Reshape(last, dims[0], 1), dims...)
	positions := graph.Iota(g, mask.Shape(), 1)
	return graph.Where(graph.Equal(positions, last), graph.OnesLike(mask), graph.ZerosLike(mask))
}

// selectLastValid picks states[last[b], b] from time-major states
// [time, batch, dim] given a batch-major mask [batch, time].
func selectLastValid(states, mask *graph.Node) *graph.Node {
	return graph.Einsum("bt,tbh->bh", lastValidSelector(mask), states)
}

// lastValidValue picks values[b, last[b]] from a [batch, time] array.
func lastValidValue(values, mask *graph.Node) *graph.Node {
	return graph.ReduceSum(graph.Mul(values, lastValidSelector(mask)), 1)
}
