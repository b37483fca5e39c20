package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/matcher/internal/config"
	"github.com/born-ml/matcher/internal/history"
	"github.com/born-ml/matcher/internal/metrics"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show the recorded epochs of a run (latest run by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  historyHandler,
	}
	cmd.Flags().StringP("config", "c", "", "YAML config file, used for exp_base_dir")
	cmd.Flags().String("exp-dir", "", "Directory holding history.db")
	return cmd
}

func historyHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	dir, _ := flags.GetString("exp-dir")
	cfg = cfg.Apply(config.Overrides{ExpBaseDir: dir})

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var run history.Run
	if len(args) == 1 {
		run.ID = args[0]
	} else {
		latest, ok, err := store.LatestRun(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no runs recorded in " + cfg.HistoryPath())
		}
		run = latest
	}

	epochs, err := store.Epochs(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(epochs) == 0 {
		return fmt.Errorf("run %s has no recorded epochs", run.ID)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", run.ID)
	results := make([]metrics.EpochResult, len(epochs))
	for i, e := range epochs {
		results[i] = e.Result()
	}
	metrics.Summary(out, results)

	if run.ModelName == "" {
		return nil
	}
	best, ok, err := store.BestAccuracy(ctx, run.ModelName, run.Phase)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "best %s phase %d accuracy across runs: %.3f%%\n", run.ModelName, run.Phase, best)
	}
	return nil
}
