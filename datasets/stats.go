package datasets

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/taxiDest/logging"
	"github.com/Noofbiz/taxiDest/model"
)

const statsChunk = 1024

// ComputeGPSStats returns the population mean and standard deviation of every
// GPS point in src.
func ComputeGPSStats(src Source) (model.GPSStats, error) {
	var lats, lons []float64
	for start := 0; start < src.Len(); start += statsChunk {
		end := min(start+statsChunk, src.Len())
		idx := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			idx = append(idx, i)
		}
		trips, err := src.Batch(idx)
		if err != nil {
			return model.GPSStats{}, fmt.Errorf("gps stats: %w", err)
		}
		for _, t := range trips {
			for i := range t.Latitude {
				lats = append(lats, float64(t.Latitude[i]))
				lons = append(lons, float64(t.Longitude[i]))
			}
		}
	}
	if len(lats) == 0 {
		return model.GPSStats{}, fmt.Errorf("gps stats: %w", ErrEmptyTrajectory)
	}

	var s model.GPSStats
	s.LatMean, s.LatStd = stat.PopMeanStdDev(lats, nil)
	s.LonMean, s.LonStd = stat.PopMeanStdDev(lons, nil)
	logging.Info().
		Int("points", len(lats)).
		Float64("lat_mean", s.LatMean).
		Float64("lon_mean", s.LonMean).
		Float64("lat_std", s.LatStd).
		Float64("lon_std", s.LonStd).
		Msg("computed gps statistics")
	return s, nil
}
