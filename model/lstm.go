package model

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Gate blocks inside the 4*dim pre-activation, in this order.
const (
	gateIn = iota
	gateForget
	gateCell
	gateOut
	numGates
)

// lstm is a single direction long short-term memory with peephole
// connections and learned initial state. Inputs arrive already projected to
// the 4*dim gate pre-activations.
type lstm struct {
	dim int

	wState       *context.Variable // [dim, 4*dim]
	cellToIn     *context.Variable // [dim]
	cellToForget *context.Variable // [dim]
	cellToOut    *context.Variable // [dim]
	initialState *context.Variable // [dim]
	initialCells *context.Variable // [dim]
}

func newLSTM(ctx *context.Context, init InitConfig, dim int) *lstm {
	return &lstm{
		dim:          dim,
		wState:       weightVariable(ctx, init, "W_state", dim, numGates*dim),
		cellToIn:     weightVariable(ctx, init, "W_cell_to_in", dim),
		cellToForget: weightVariable(ctx, init, "W_cell_to_forget", dim),
		cellToOut:    weightVariable(ctx, init, "W_cell_to_out", dim),
		initialState: zeroVariable(ctx, "initial_state", dim),
		initialCells: zeroVariable(ctx, "initial_cells", dim),
	}
}

// scan runs the recurrence over inputs [time, batch, 4*dim] under mask
// [time, batch] and returns the hidden state [batch, dim] of every timestep,
// indexed by time. With reverse set the scan starts at the last timestep.
// Masked steps carry the previous state and cells through unchanged.
func (l *lstm) scan(inputs, mask *graph.Node, reverse bool) []*graph.Node {
	g := inputs.Graph()
	dims := inputs.Shape().Dimensions
	steps, batch, dim := dims[0], dims[1], l.dim

	perBatch := func(v *context.Variable) *graph.Node {
		return graph.BroadcastToDims(graph.Reshape(v.ValueGraph(g), 1, dim), batch, dim)
	}
	wState := l.wState.ValueGraph(g)
	peepIn, peepForget, peepOut := perBatch(l.cellToIn), perBatch(l.cellToForget), perBatch(l.cellToOut)
	state, cells := perBatch(l.initialState), perBatch(l.initialCells)

	states := make([]*graph.Node, steps)
	for i := 0; i < steps; i++ {
		t := i
		if reverse {
			t = steps - 1 - i
		}
		x := graph.Reshape(graph.Slice(inputs, graph.AxisElem(t)), batch, numGates*dim)
		m := graph.BroadcastToDims(graph.Reshape(graph.Slice(mask, graph.AxisElem(t)), batch, 1), batch, dim)
		keep := graph.Sub(graph.OnesLike(m), m)

		act := graph.Add(graph.Einsum("bh,hg->bg", state, wState), x)
		gate := func(k int) *graph.Node {
			return graph.Slice(act, graph.AxisRange(), graph.AxisRange(k*dim, (k+1)*dim))
		}
		inGate := graph.Sigmoid(graph.Add(gate(gateIn), graph.Mul(cells, peepIn)))
		forgetGate := graph.Sigmoid(graph.Add(gate(gateForget), graph.Mul(cells, peepForget)))
		nextCells := graph.Add(graph.Mul(forgetGate, cells), graph.Mul(inGate, graph.Tanh(gate(gateCell))))
		outGate := graph.Sigmoid(graph.Add(gate(gateOut), graph.Mul(nextCells, peepOut)))
		nextState := graph.Mul(outGate, graph.Tanh(nextCells))

		state = graph.Add(graph.Mul(m, nextState), graph.Mul(keep, state))
		cells = graph.Add(graph.Mul(m, nextCells), graph.Mul(keep, cells))
		states[t] = state
	}
	return states
}

// bidirectional holds independent forward and backward LSTMs fed by the same
// projected inputs.
type bidirectional struct {
	forward, backward *lstm
}

func newBidirectional(ctx *context.Context, init InitConfig, dim int) *bidirectional {
	return &bidirectional{
		forward:  newLSTM(ctx.In("forward"), init, dim),
		backward: newLSTM(ctx.In("backward"), init, dim),
	}
}

// apply returns the path [time, batch, 2*dim]: forward states in the first
// dim channels, backward states in the last dim channels.
func (b *bidirectional) apply(inputs, mask *graph.Node) *graph.Node {
	fwd := stackTime(b.forward.scan(inputs, mask, false))
	bwd := stackTime(b.backward.scan(inputs, mask, true))
	return graph.Concatenate([]*graph.Node{fwd, bwd}, 2)
}

// stackTime turns a time-indexed list of [batch, dim] states into [time, batch, dim].
func stackTime(states []*graph.Node) *graph.Node {
	parts := make([]*graph.Node, len(states))
	for t, s := range states {
		dims := s.Shape().Dimensions
		parts[t] = graph.Reshape(s, 1, dims[0], dims[1])
	}
	return graph.Concatenate(parts, 0)
}
