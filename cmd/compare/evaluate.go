package main

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/spf13/cobra"

	"github.com/Noofbiz/taxiDest/config"
	"github.com/Noofbiz/taxiDest/datasets"
	"github.com/Noofbiz/taxiDest/geo"
	"github.com/Noofbiz/taxiDest/logging"
	"github.com/Noofbiz/taxiDest/model"
	"github.com/Noofbiz/taxiDest/monte"
	"github.com/Noofbiz/taxiDest/simple"
)

// Method names, in report order.
const (
	methodMemoryNetwork = "memory_network"
	methodKNN           = "knn"
	methodKNNSim        = "knn_sim"
	methodMLP           = "mlp"
)

var methods = []string{methodMemoryNetwork, methodKNN, methodKNNSim, methodMLP}

func newEvaluateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the memory network, KNN and MLP on validation prefixes",
		RunE:  runEvaluate,
	}
	cmd.Flags().String("train", "", "glob of training trip CSVs (default: data.train_pattern)")
	cmd.Flags().String("valid", "", "glob of validation trip CSVs (default: data.valid_pattern)")
	cmd.Flags().String("out", "", "output directory for the plot and summary (default: evaluate.out_dir)")
	cmd.Flags().String("out-csv", "", "per-prefix CSV path (default: evaluate.out_csv)")
	cmd.Flags().Int64("seed", 0, "random seed (default: evaluate.seed)")
	cmd.Flags().Int("prefixes", 0, "number of validation prefixes (default: evaluate.prefixes)")
	cmd.Flags().Int("candidates", 0, "number of candidate trips (default: evaluate.candidates)")
	cmd.Flags().String("backend", "", `gomlx backend, e.g. "go:parallelism=-1" (default: evaluate.backend, then $GOMLX_BACKEND)`)
	cmd.Flags().Bool("no-plot", false, "skip the PNG scatter plot")
	return cmd
}

// applyEvaluateFlags overrides cfg with every flag set on the command line.
func applyEvaluateFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("train") {
		cfg.Data.TrainPattern, _ = f.GetString("train")
	}
	if f.Changed("valid") {
		cfg.Data.ValidPattern, _ = f.GetString("valid")
	}
	if f.Changed("out") {
		cfg.Evaluate.OutDir, _ = f.GetString("out")
	}
	if f.Changed("out-csv") {
		cfg.Evaluate.OutCSV, _ = f.GetString("out-csv")
	}
	if f.Changed("seed") {
		cfg.Evaluate.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("prefixes") {
		cfg.Evaluate.Prefixes, _ = f.GetInt("prefixes")
	}
	if f.Changed("candidates") {
		cfg.Evaluate.Candidates, _ = f.GetInt("candidates")
	}
	if f.Changed("backend") {
		cfg.Evaluate.Backend, _ = f.GetString("backend")
	}
	return cfg.Validate()
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyEvaluateFlags(cmd, cfg); err != nil {
		return err
	}
	noPlot, _ := cmd.Flags().GetBool("no-plot")

	report, err := evaluate(cfg)
	if err != nil {
		return err
	}

	if cfg.Evaluate.OutCSV != "" {
		if err := writeResultsCSV(cfg.Evaluate.OutCSV, report.Rows); err != nil {
			return err
		}
		logging.Info().Str("path", cfg.Evaluate.OutCSV).Int("rows", len(report.Rows)).Msg("wrote evaluation CSV")
	}
	if err := writeSummary(filepath.Join(cfg.Evaluate.OutDir, "summary.json"), report.Summary); err != nil {
		return err
	}
	if !noPlot {
		if err := plotCompare(cfg.Evaluate.OutDir, report.Rows); err != nil {
			return fmt.Errorf("plot: %w", err)
		}
	}
	return report.Summary.print(cmd.OutOrStdout())
}

// loadSplits opens the training trips and the validation trips, either from
// their own files or held out of the training files.
func loadSplits(cfg *config.Config) (train, valid datasets.Source, err error) {
	ds, err := datasets.NewTripDataset(cfg.Data.TrainPattern)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Data.Cache {
		if err := ds.EnableCache(); err != nil {
			return nil, nil, err
		}
	}
	if cfg.Data.ValidPattern != "" {
		vds, err := datasets.NewTripDataset(cfg.Data.ValidPattern)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Data.Cache {
			if err := vds.EnableCache(); err != nil {
				return nil, nil, err
			}
		}
		return ds, vds, nil
	}
	if cfg.Data.ValidFraction <= 0 {
		return nil, nil, errors.New("no validation data: set data.valid_pattern or data.valid_fraction")
	}
	tr, va := datasets.HoldOut(ds.Len(), cfg.Data.ValidFraction, cfg.Evaluate.Seed)
	return datasets.Subset{Src: ds, Indices: tr}, datasets.Subset{Src: ds, Indices: va}, nil
}

// samplePrefixes cuts up to n random non-empty trips of src at random
// lengths. Trips are read n at a time through src.Batch.
func samplePrefixes(src datasets.Source, n int, rng *rand.Rand) ([]datasets.Segment, error) {
	perm := rng.Perm(src.Len())
	segs := make([]datasets.Segment, 0, n)
	for start := 0; start < len(perm) && len(segs) < n; start += n {
		trips, err := src.Batch(perm[start:min(start+n, len(perm))])
		if err != nil {
			return nil, fmt.Errorf("validation prefixes: %w", err)
		}
		for _, t := range trips {
			seg, err := datasets.RandomCut(rng, t)
			if errors.Is(err, datasets.ErrEmptyTrajectory) {
				continue
			}
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			if len(segs) == n {
				break
			}
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("validation prefixes: %w", datasets.ErrEmptyTrajectory)
	}
	return segs, nil
}

type report struct {
	Rows    []resultRow
	Summary summary
}

func evaluate(cfg *config.Config) (*report, error) {
	start := time.Now()
	train, valid, err := loadSplits(cfg)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Evaluate.Seed))

	prefixes, err := samplePrefixes(valid, cfg.Evaluate.Prefixes, rng)
	if err != nil {
		return nil, err
	}
	exclude := make([]string, len(prefixes))
	for i, p := range prefixes {
		exclude[i] = p.Trip.ID
	}
	cands, err := monte.NewSampler(train, exclude, rng.Int63()).Candidates(cfg.Evaluate.Candidates)
	if err != nil {
		return nil, err
	}
	logging.Info().
		Int("prefixes", len(prefixes)).
		Int("candidates", len(cands)).
		Msg("sampled evaluation set")

	preds := make(map[string][][2]float32, len(methods))
	var cost float64
	if preds[methodMemoryNetwork], cost, err = evalMemoryNetwork(cfg, cands, prefixes); err != nil {
		return nil, fmt.Errorf("memory network: %w", err)
	}
	if preds[methodKNN], preds[methodKNNSim], err = evalKNN(cfg, cands, prefixes, rng.Int63()); err != nil {
		return nil, fmt.Errorf("knn: %w", err)
	}
	if preds[methodMLP], err = evalMLP(cfg, train, prefixes, rng.Int63()); err != nil {
		return nil, fmt.Errorf("mlp: %w", err)
	}

	rep := &report{Rows: buildRows(prefixes, preds)}
	rep.Summary = summarize(prefixes, preds, len(cands))
	rep.Summary.MemoryNetworkCost = cost
	rep.Summary.Seconds = time.Since(start).Seconds()
	for _, m := range rep.Summary.Methods {
		logging.Info().
			Str("method", m.Name).
			Float64("mean_erdist_km", m.MeanErdist).
			Float64("mean_haversine_km", m.MeanHaversine).
			Msg("evaluation result")
	}
	return rep, nil
}

// evalMemoryNetwork runs the untrained memory network over prefixes in
// batches against the fixed candidate set. It also returns the mean cost.
func evalMemoryNetwork(cfg *config.Config, cands []*datasets.Trip, prefixes []datasets.Segment) ([][2]float32, float64, error) {
	modelCfg, err := cfg.ModelConfig()
	if err != nil {
		return nil, 0, err
	}
	m, err := model.New(context.New(), modelCfg)
	if err != nil {
		return nil, 0, err
	}
	backend, err := model.NewBackend(cfg.Evaluate.Backend)
	if err != nil {
		return nil, 0, err
	}
	predictor, err := model.NewPredictor(backend, m)
	if err != nil {
		return nil, 0, err
	}

	vocab := cfg.Vocabularies()
	whole := make([]datasets.Segment, len(cands))
	for i, c := range cands {
		if whole[i], err = datasets.Whole(c); err != nil {
			return nil, 0, err
		}
	}
	candBatch, err := datasets.NewTrajectoryBatch(whole, vocab)
	if err != nil {
		return nil, 0, err
	}
	candInputs := candBatch.Tensors(model.CandidatePrefix)

	out := make([][2]float32, 0, len(prefixes))
	targets := make([][2]float32, 0, len(prefixes))
	batches := 0
	for start := 0; start < len(prefixes); start += cfg.Evaluate.BatchSize {
		segs := prefixes[start:min(start+cfg.Evaluate.BatchSize, len(prefixes))]
		b, err := datasets.NewTrajectoryBatch(segs, vocab)
		if err != nil {
			return nil, 0, err
		}
		p, err := predictor.Predict(datasets.Merge(b.Tensors(""), candInputs))
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p...)
		targets = append(targets, b.Destinations()...)
		batches++
		logging.Debug().
			Int("batch", batches).
			Float64("cost_km", geo.MeanErdist(p, b.Destinations())).
			Msg("memory network batch")
	}
	// Host-side equivalent of Predictor.Cost over all prefixes.
	return out, geo.MeanErdist(out, targets), nil
}

// evalKNN returns the inverse-distance prediction and the Monte Carlo mean of
// every prefix.
func evalKNN(cfg *config.Config, cands []*datasets.Trip, prefixes []datasets.Segment, seed int64) (knn, sim [][2]float32, err error) {
	m, err := monte.NewKNN(cands, cfg.KNN.K, seed)
	if err != nil {
		return nil, nil, err
	}
	m.Workers = cfg.KNN.Workers
	if knn, err = m.PredictBatch(prefixes); err != nil {
		return nil, nil, err
	}
	sim = make([][2]float32, len(prefixes))
	for i, p := range prefixes {
		results, err := m.Simulate(p, cfg.KNN.Sims)
		if err != nil {
			return nil, nil, err
		}
		if sim[i], err = monte.MeanDestination(results); err != nil {
			return nil, nil, err
		}
	}
	return knn, sim, nil
}

// evalMLP trains the MLP baseline on a random subset of the training trips.
func evalMLP(cfg *config.Config, train datasets.Source, prefixes []datasets.Segment, seed int64) ([][2]float32, error) {
	modelCfg, err := cfg.ModelConfig()
	if err != nil {
		return nil, err
	}
	mc := cfg.MLP
	d, err := simple.NewDestination(simple.Config{
		HiddenSizes:  mc.HiddenSizes,
		LearningRate: mc.LearningRate,
		Epochs:       mc.Epochs,
		BatchSize:    mc.BatchSize,
		Optimizer:    mc.Optimizer,
		ClipNorm:     mc.ClipNorm,
		Seed:         seed,
	}, mc.Points, modelCfg.Normalization)
	if err != nil {
		return nil, err
	}
	n := min(mc.TrainTrips, train.Len())
	idx := rand.New(rand.NewSource(seed)).Perm(train.Len())[:n]
	history, err := d.Train(datasets.Subset{Src: train, Indices: idx})
	if err != nil {
		return nil, err
	}
	logging.Info().Int("trips", n).Float64("final_loss", history[len(history)-1]).Msg("trained mlp baseline")
	return d.Predict(prefixes)
}

func erdist(p, d [2]float32) float64 {
	return geo.Erdist(float64(p[0]), float64(p[1]), float64(d[0]), float64(d[1]))
}

func haversine(p, d [2]float32) float64 {
	return geo.Haversine(float64(p[0]), float64(p[1]), float64(d[0]), float64(d[1]))
}
