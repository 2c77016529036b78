package model

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// ContextEmbedder maps categorical trip metadata to dense vectors, one
// lookup table per configured feature.
type ContextEmbedder struct {
	specs  []EmbeddingSpec
	tables []*context.Variable // [vocab, dim] each
}

// newContextEmbedder creates the tables under ctx.
func newContextEmbedder(ctx *context.Context, init InitConfig, specs []EmbeddingSpec) *ContextEmbedder {
	e := &ContextEmbedder{specs: specs}
	for _, s := range specs {
		e.tables = append(e.tables, weightVariable(ctx.In(s.Name), init, "embeddings", s.Vocab, s.Dim))
	}
	return e
}

// Inputs lists the feature names Apply reads, in table order.
func (e *ContextEmbedder) Inputs() []string {
	names := make([]string, len(e.specs))
	for i, s := range e.specs {
		names[i] = s.Name
	}
	return names
}

// OutputDim is the summed width of all embeddings.
func (e *ContextEmbedder) OutputDim() int {
	var n int
	for _, s := range e.specs {
		n += s.Dim
	}
	return n
}

// Apply looks up every feature. features maps names to int32 index vectors
// of shape [batch]; the result holds one [batch, dim] node per table.
func (e *ContextEmbedder) Apply(features map[string]*graph.Node) []*graph.Node {
	out := make([]*graph.Node, len(e.specs))
	for i, s := range e.specs {
		idx := features[s.Name]
		table := e.tables[i].ValueGraph(idx.Graph())
		batch := idx.Shape().Dimensions[0]
		out[i] = graph.Gather(table, graph.Reshape(idx, batch, 1))
	}
	return out
}
