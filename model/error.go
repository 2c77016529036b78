package model

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/graph"
)

// EarthRadius in kilometers.
const EarthRadius = 6371.0

// Erdist is the equirectangular distance in kilometers between the rows of
// two [batch, 2] (latitude, longitude) matrices given in degrees. It returns
// a [batch] vector.
func Erdist(a, b *graph.Node) *graph.Node {
	g := a.Graph()
	batch := a.Shape().Dimensions[0]
	col := func(x *graph.Node, i int) *graph.Node {
		c := graph.Slice(x, graph.AxisRange(), graph.AxisElem(i))
		return graph.Mul(graph.Reshape(c, batch), graph.Scalar(g, x.DType(), math.Pi/180))
	}
	lat1, lon1 := col(a, 0), col(a, 1)
	lat2, lon2 := col(b, 0), col(b, 1)

	half := graph.Scalar(g, a.DType(), 0.5)
	x := graph.Mul(graph.Sub(lon2, lon1), graph.Cos(graph.Mul(graph.Add(lat1, lat2), half)))
	y := graph.Sub(lat2, lat1)
	return graph.Mul(graph.Sqrt(graph.Add(graph.Square(x), graph.Square(y))), graph.Scalar(g, a.DType(), EarthRadius))
}
