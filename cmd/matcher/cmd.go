package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/born-ml/matcher/internal/config"
)

const version = "v0.1.0"

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "matcher",
		Short:         "Two-phase product image classifier trainer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(cmd.ErrOrStderr(), verbose)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug output")

	rootCmd.AddCommand(newTrainCmd(), newHistoryCmd(), newVersionCmd())
	return rootCmd
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "matcher version %s\n", version)
		},
	}
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run one training phase",
		Example: `  matcher train --config configs/phase1.yaml
  matcher train --config configs/phase2.yaml --load-path data/exps/convnet_phase1_best.born`,
		Args: cobra.NoArgs,
		RunE: trainHandler,
	}

	cmd.Flags().StringP("config", "c", "", "YAML config file (defaults apply when empty)")
	cmd.Flags().String("phase", "", "Training phase, 1 or 2")
	cmd.Flags().Int("epochs", 0, "Number of epochs")
	cmd.Flags().Int("batch-size", 0, "Mini-batch size")
	cmd.Flags().Float64("lr", 0, "Adam learning rate")
	cmd.Flags().String("load-path", "", "Checkpoint to initialise from")
	cmd.Flags().String("exp-dir", "", "Directory for checkpoints and history")
	cmd.Flags().String("device", "", "auto, cpu or gpu")
	return cmd
}

// resolveConfig layers the config file, the environment and the flags,
// in that order.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	cfg = cfg.FromEnv()

	var o config.Overrides
	if flags.Changed("phase") {
		s, _ := flags.GetString("phase")
		p, err := config.ParsePhase(s)
		if err != nil {
			return config.Config{}, err
		}
		o.Phase = p
	}
	o.NumEpochs, _ = flags.GetInt("epochs")
	o.BatchSize, _ = flags.GetInt("batch-size")
	o.LR, _ = flags.GetFloat64("lr")
	o.LoadPath, _ = flags.GetString("load-path")
	o.ExpBaseDir, _ = flags.GetString("exp-dir")
	o.Device, _ = flags.GetString("device")

	cfg = cfg.Apply(o)
	return cfg, cfg.Validate()
}

func trainHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("starting run", "phase", cfg.Phase, "model", cfg.ModelName, "epochs", cfg.NumEpochs,
		"batch_size", cfg.BatchSize, "lr", cfg.LR, "device", cfg.Device)

	res, err := train(cmd.Context(), cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	slog.Info("run finished", "run_id", res.RunID, "best_accuracy", res.BestAccuracy)
	return nil
}
