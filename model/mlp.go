package model

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Activation names an elementwise output non-linearity.
type Activation string

const (
	Identity Activation = "identity"
	Tanh     Activation = "tanh"
	Sigmoid  Activation = "sigmoid"
	Relu     Activation = "relu"
)

// ParseActivation validates an activation name.
func ParseActivation(s string) (Activation, error) {
	switch a := Activation(s); a {
	case Identity, Tanh, Sigmoid, Relu:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown activation %q", ErrInvalidConfig, s)
}

func (a Activation) apply(x *graph.Node) *graph.Node {
	switch a {
	case Tanh:
		return graph.Tanh(x)
	case Sigmoid:
		return graph.Sigmoid(x)
	case Relu:
		return relu(x)
	default:
		return x
	}
}

func relu(x *graph.Node) *graph.Node {
	return graph.Max(x, graph.ZerosLike(x))
}

// linear is an affine map y = x W + b.
type linear struct {
	w, b *context.Variable
}

func newLinear(ctx *context.Context, init InitConfig, in, out int) *linear {
	return &linear{
		w: weightVariable(ctx, init, "weights", in, out),
		b: biasVariable(ctx, init, "biases", out),
	}
}

// apply maps x of shape [batch, in] to [batch, out].
func (l *linear) apply(x *graph.Node) *graph.Node {
	g := x.Graph()
	w := l.w.ValueGraph(g)
	b := l.b.ValueGraph(g)
	y := graph.Einsum("bi,io->bo", x, w)
	dims := y.Shape().Dimensions
	return graph.Add(y, graph.BroadcastToDims(graph.Reshape(b, 1, dims[1]), dims...))
}

// mlp is a stack of linear layers, rectified in between and finished by a
// caller-chosen activation.
type mlp struct {
	layers []*linear
	output Activation
}

func newMLP(ctx *context.Context, init InitConfig, dims []int, output Activation) *mlp {
	m := &mlp{output: output}
	for i := 0; i+1 < len(dims); i++ {
		m.layers = append(m.layers, newLinear(ctx.In(fmt.Sprintf("linear_%d", i)), init, dims[i], dims[i+1]))
	}
	return m
}

func (m *mlp) apply(x *graph.Node) *graph.Node {
	for i, l := range m.layers {
		x = l.apply(x)
		if i < len(m.layers)-1 {
			x = relu(x)
		} else {
			x = m.output.apply(x)
		}
	}
	return x
}
