package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Noofbiz/taxiDest/datasets"
)

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the GPS mean and standard deviation of a trip dataset as a config fragment",
		RunE:  runStats,
	}
	cmd.Flags().String("train", "", "glob of trip CSV files (default: data.train_pattern)")
	return cmd
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pattern := cfg.Data.TrainPattern
	if cmd.Flags().Changed("train") {
		pattern, _ = cmd.Flags().GetString("train")
	}

	ds, err := datasets.NewTripDataset(pattern)
	if err != nil {
		return err
	}
	if cfg.Data.Cache {
		if err := ds.EnableCache(); err != nil {
			return err
		}
	}
	s, err := datasets.ComputeGPSStats(ds)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "model:")
	fmt.Fprintf(out, "  gps_mean: [%.8f, %.8f]\n", s.LatMean, s.LonMean)
	fmt.Fprintf(out, "  gps_std: [%.8f, %.8f]\n", s.LatStd, s.LonStd)
	return nil
}
