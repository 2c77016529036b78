// Package geo holds plain float64 distance helpers for (latitude, longitude)
// points given in degrees.
package geo

import "math"

// EarthRadius in kilometers.
const EarthRadius = 6371.0

const deg2rad = math.Pi / 180

// Erdist is the equirectangular approximation of the distance in kilometers.
// It matches the training cost of the memory network.
func Erdist(lat1, lon1, lat2, lon2 float64) float64 {
	x := (lon2 - lon1) * deg2rad * math.Cos((lat1+lat2)/2*deg2rad)
	y := (lat2 - lat1) * deg2rad
	return math.Sqrt(x*x+y*y) * EarthRadius
}

// Haversine is the great-circle distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := lat1*deg2rad, lat2*deg2rad
	dphi := (lat2 - lat1) * deg2rad
	dlambda := (lon2 - lon1) * deg2rad
	a := math.Pow(math.Sin(dphi/2), 2) + math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dlambda/2), 2)
	return 2 * EarthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MeanErdist averages Erdist over paired predictions and targets.
func MeanErdist(preds, targets [][2]float32) float64 {
	if len(preds) == 0 {
		return 0
	}
	var sum float64
	for i := range preds {
		sum += Erdist(float64(preds[i][0]), float64(preds[i][1]), float64(targets[i][0]), float64(targets[i][1]))
	}
	return sum / float64(len(preds))
}
