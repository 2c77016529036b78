package main

// Example command that loads the trip dataset, cuts a few random prefixes and
// converts them into the named gomlx tensors the memory network consumes.
//
// Usage:
//   go run ./datasets/example [pattern]
//
// The default pattern expects the Porto CSVs under assets/.

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"

	"github.com/Noofbiz/taxiDest/datasets"
)

func main() {
	pattern := "assets/train*.csv"
	if len(os.Args) > 1 {
		pattern = os.Args[1]
	}
	ds, err := datasets.NewTripDataset(pattern)
	if err != nil {
		log.Fatalf("failed to load trip dataset: %v", err)
	}
	fmt.Printf("Using trip CSV pattern: %s\n", pattern)
	fmt.Printf("Total trips available: %d\n", ds.Len())

	n := min(8, ds.Len())
	indices := make([]int, n)
	for i := range n {
		indices[i] = i
	}
	trips, err := ds.Batch(indices)
	if err != nil {
		log.Fatalf("failed to read trips: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	segs := make([]datasets.Segment, 0, n)
	for _, t := range trips {
		seg, err := datasets.RandomCut(rng, t)
		if err != nil {
			fmt.Printf("skipping trip %s: %v\n", t.ID, err)
			continue
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		log.Fatal("no non-empty trips in the first rows")
	}

	vocab := map[string]int{
		datasets.DayOfWeekFeature:  7,
		datasets.QHourOfDayFeature: 96,
		datasets.WeekOfYearFeature: 52,
	}
	batch, err := datasets.NewTrajectoryBatch(segs, vocab)
	if err != nil {
		log.Fatalf("failed to build batch: %v", err)
	}
	fmt.Printf("Batch of %d prefixes padded to %d points\n", batch.Size(), batch.MaxLength())

	named := datasets.Merge(batch.Tensors(""), batch.DestinationTensors())
	names := make([]string, 0, len(named))
	for k := range named {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("  %-22s %s\n", k, named[k].Shape())
	}
}
